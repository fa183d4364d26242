package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/librarian/internal/core/domain"
)

type EventKind string

const (
	EventStepStarted  EventKind = "step_started"
	EventToolCalled   EventKind = "tool_called"
	EventStepFinished EventKind = "step_finished"
)

// Event is one debug/trace notification from the matcher loop, keyed by
// the step it belongs to.
type Event struct {
	Kind      EventKind
	StepID    domain.StepID
	Detail    string
	Timestamp int64
}

// EventBus fans matcher events out to per-step subscribers. A subscriber
// on the empty step id receives every event.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.StepID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.StepID][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one step (or all
// steps, when stepID is empty) plus its unsubscribe function.
func (b *EventBus) Subscribe(stepID domain.StepID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffered so a slow reader never blocks the loop
	b.subs[stepID] = append(b.subs[stepID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[stepID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[stepID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[stepID]) == 0 {
			delete(b.subs, stepID)
		}
	}

	return ch, unsub
}

// Publish delivers an event to the step's subscribers and the wildcard
// subscribers. Full channels drop the event rather than stall the loop.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// Copy under the read lock: appending to the stored slice could share
	// its backing array with concurrent publishers.
	targets := append([]chan Event(nil), b.subs[e.StepID]...)
	if e.StepID != "" {
		targets = append(targets, b.subs[""]...)
	}
	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "step_id", e.StepID, "kind", e.Kind)
		}
	}
}
