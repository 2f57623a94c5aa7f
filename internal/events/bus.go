package events

import (
	"sync"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

const subscriberBuffer = 100

// Bus fans workflow events out to subscribers. Slow subscribers whose
// buffer is full have events dropped rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan types.WorkflowEvent
	closed      bool
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]chan types.WorkflowEvent)}
}

// Subscribe registers for events of one workflow, or all workflows when
// workflowID is "*". The returned cancel func must be called to release
// the subscription.
func (b *Bus) Subscribe(workflowID string) (<-chan types.WorkflowEvent, func()) {
	ch := make(chan types.WorkflowEvent, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[workflowID] = append(b.subscribers[workflowID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[workflowID]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[workflowID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers the event to workflow-specific and wildcard subscribers.
func (b *Bus) Publish(event types.WorkflowEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, key := range []string{event.WorkflowID, "*"} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
				logger.Logger.Warn().
					Str("workflow_id", event.WorkflowID).
					Str("event_type", event.Type).
					Msg("Subscriber channel full, dropping event")
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan types.WorkflowEvent)
}
