package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
)

func TestEventService_PublishSync(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())
	defer svc.Close()

	var received []interfaces.Event
	var mu sync.Mutex

	svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	event := interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: map[string]interface{}{"job_id": "job_1"},
	}
	require.NoError(t, svc.PublishSync(context.Background(), event))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "job_1", received[0].Payload["job_id"])
}

func TestEventService_PublishSync_HandlerError(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())
	defer svc.Close()

	svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, e interfaces.Event) error {
		return fmt.Errorf("handler broke")
	})

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler broke")
}

func TestEventService_PublishAsync(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())
	defer svc.Close()

	var count atomic.Int32
	svc.Subscribe(interfaces.EventObjectProgress, func(ctx context.Context, e interfaces.Event) error {
		count.Add(1)
		return nil
	})

	svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventObjectProgress})

	assert.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEventService_Unsubscribe(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())
	defer svc.Close()

	var count atomic.Int32
	token := svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, e interfaces.Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted}))
	svc.Unsubscribe(interfaces.EventJobCompleted, token)
	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted}))

	assert.Equal(t, int32(1), count.Load())
}

func TestEventService_TypeIsolation(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())
	defer svc.Close()

	var count atomic.Int32
	svc.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, e interfaces.Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobRetry}))
	assert.Equal(t, int32(0), count.Load())
}

func TestEventService_ClosedDropsPublishes(t *testing.T) {
	svc := NewEventService(arbor.NewLogger())

	var count atomic.Int32
	svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, e interfaces.Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, svc.Close())

	svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated})
	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated})
	assert.Error(t, err)
	assert.Equal(t, int32(0), count.Load())
}
