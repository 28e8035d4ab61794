package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewObjectID generates a unique content object ID with the "obj_" prefix
func NewObjectID() string {
	return "obj_" + uuid.New().String()
}

// NewVectorID generates a unique vector document ID
func NewVectorID() string {
	return uuid.New().String()
}
