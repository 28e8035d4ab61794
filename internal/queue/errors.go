package queue

import "errors"

// FatalError marks a processor failure as permanent. The scheduler fails
// the job immediately instead of spending retry attempts on input that can
// never succeed (oversized files, malformed sources, unsupported types).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a permanent failure
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries the permanent-failure marker
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
