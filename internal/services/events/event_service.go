package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// EventService is an in-process pub/sub bus. Handlers are keyed by a
// subscription token so callers can unsubscribe without holding the
// handler value.
type EventService struct {
	handlers map[interfaces.EventType]map[string]interfaces.EventHandler
	mu       sync.RWMutex
	closed   bool
	logger   arbor.ILogger
}

// NewEventService creates a new event service
func NewEventService(logger arbor.ILogger) interfaces.EventService {
	return &EventService{
		handlers: make(map[interfaces.EventType]map[string]interfaces.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns its unsubscribe token
func (s *EventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := common.NewVectorID()
	if s.handlers[eventType] == nil {
		s.handlers[eventType] = make(map[string]interfaces.EventHandler)
	}
	s.handlers[eventType][token] = handler

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("handlers", len(s.handlers[eventType])).
		Msg("Event handler subscribed")

	return token
}

// Unsubscribe removes a previously registered handler
func (s *EventService) Unsubscribe(eventType interfaces.EventType, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handlers, ok := s.handlers[eventType]; ok {
		delete(handlers, token)
	}
}

// Publish delivers the event to all handlers asynchronously. Handler errors
// are logged and otherwise ignored.
func (s *EventService) Publish(ctx context.Context, event interfaces.Event) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	handlers := s.snapshot(event.Type)
	s.mu.RUnlock()

	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Warn().
					Str("event_type", string(event.Type)).
					Err(err).
					Msg("Event handler failed")
			}
		}(handler)
	}
}

// PublishSync delivers the event and waits for every handler. The first
// handler error is returned; remaining handlers still run.
func (s *EventService) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("event service is closed")
	}
	handlers := s.snapshot(event.Type)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops delivery; subsequent publishes are dropped
func (s *EventService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.handlers = make(map[interfaces.EventType]map[string]interfaces.EventHandler)
	return nil
}

// snapshot copies the handler set for a type so delivery runs without the lock
func (s *EventService) snapshot(eventType interfaces.EventType) []interfaces.EventHandler {
	handlers := make([]interfaces.EventHandler, 0, len(s.handlers[eventType]))
	for _, h := range s.handlers[eventType] {
		handlers = append(handlers, h)
	}
	return handlers
}
