package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeBatchSubmitted Type = "batch_submitted"
	TypeBatchFinished  Type = "batch_finished"
	TypeBatchCancelled Type = "batch_cancelled"
	TypeChildStarted   Type = "child_started"
	TypeChildRetrying  Type = "child_retrying"
	TypeChildCompleted Type = "child_completed"
	TypeChildFailed    Type = "child_failed"
	TypeChildCancelled Type = "child_cancelled"
)

// Event represents a batch or child transition.
type Event struct {
	Type      Type            `json:"type"`
	BatchID   uuid.UUID       `json:"batch_id"`
	ChildID   uuid.UUID       `json:"child_id,omitempty"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Filter defines criteria for receiving events.
type Filter struct {
	BatchID uuid.UUID
	Types   []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

func (b *bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter.matches(e) {
			select {
			case ch <- e:
			default:
				// slow subscriber, drop
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (f Filter) matches(e Event) bool {
	if f.BatchID != uuid.Nil && f.BatchID != e.BatchID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Nop discards everything published to it.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(ctx context.Context, _ Filter) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
