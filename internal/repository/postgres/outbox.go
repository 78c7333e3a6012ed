package postgres

import (
	"context"
	"fmt"

	"github.com/fjod/fulfillment/internal/outbox"
)

// Record inserts the event on the caller's transaction when there is one.
func (s *Store) Record(ctx context.Context, evt outbox.Event) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, []byte(evt.Payload), evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *Store) GetUnprocessedEvents(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, processed_at
		 FROM outbox_events WHERE processed_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var evt outbox.Event
		var payload []byte
		if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType,
			&payload, &evt.CreatedAt, &evt.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		evt.Payload = payload
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (s *Store) MarkEventAsProcessed(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}
