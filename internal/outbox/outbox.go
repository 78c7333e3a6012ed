// Package outbox records domain events in the same unit of work as the state
// change that caused them. A publisher ships them to the broker later.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderPaid          = "order.paid"
	TypeOrderCancelled     = "order.cancelled"
	TypeOrderStatusChanged = "order.status_changed"

	AggregateOrder = "order"
)

type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// Recorder stores events. Implementations must join the caller's unit of work.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// Source is what the publisher drains.
type Source interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// NewEvent marshals payload and stamps a fresh id.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
