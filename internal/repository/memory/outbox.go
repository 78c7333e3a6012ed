package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/txn"
)

// Outbox keeps events in insertion order. An event recorded inside a
// compensating unit becomes visible only when that unit succeeds.
type Outbox struct {
	mu     sync.Mutex
	events []outbox.Event
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (s *Outbox) Record(ctx context.Context, evt outbox.Event) error {
	if !txn.OnCommit(ctx, func() { s.append(evt) }) {
		s.append(evt)
	}
	return nil
}

func (s *Outbox) append(evt outbox.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *Outbox) GetUnprocessedEvents(_ context.Context, limit int) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, 0, limit)
	for _, e := range s.events {
		if e.ProcessedAt != nil {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Outbox) MarkEventAsProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			now := time.Now().UTC()
			s.events[i].ProcessedAt = &now
			return nil
		}
	}
	return domain.NotFound("outbox event", id)
}

// Events returns a copy of every recorded event.
func (s *Outbox) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}
