package interfaces

import "context"

// EventType identifies a category of system event
type EventType string

const (
	EventJobCreated     EventType = "job:created"
	EventJobStarted     EventType = "job:started"
	EventJobCompleted   EventType = "job:completed"
	EventJobRetry       EventType = "job:retry"
	EventJobFailed      EventType = "job:failed"
	EventJobCancelled   EventType = "job:cancelled"
	EventObjectProgress EventType = "object:progress"
)

// Event carries a typed notification with an arbitrary payload
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// EventHandler processes a single event. Handlers must be safe for
// concurrent invocation.
type EventHandler func(ctx context.Context, event Event) error

// EventService is a lightweight in-process pub/sub bus
type EventService interface {
	// Subscribe registers a handler for an event type and returns an
	// unsubscribe token
	Subscribe(eventType EventType, handler EventHandler) string

	// Unsubscribe removes a previously registered handler
	Unsubscribe(eventType EventType, token string)

	// Publish delivers the event to all handlers asynchronously
	Publish(ctx context.Context, event Event)

	// PublishSync delivers the event and waits for every handler,
	// returning the first handler error encountered
	PublishSync(ctx context.Context, event Event) error

	// Close stops delivery; subsequent publishes are dropped
	Close() error
}
