package sqlxstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ashishshetty777/auction-app/internal/event"
)

type eventRow struct {
	ID          string    `db:"id"`
	AggregateID string    `db:"aggregate_id"`
	Type        string    `db:"type"`
	Data        []byte    `db:"data"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
}

// EventStore implements event.Store. Appends outside a transaction open
// their own so a batch lands atomically.
type EventStore struct {
	bound
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	db, ok := s.q.(*sqlx.DB)
	if !ok {
		return s.insert(ctx, s.q, events)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insert(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EventStore) insert(ctx context.Context, q sqlx.ExtContext, events []event.Event) error {
	query := q.Rebind(`INSERT INTO events (id, aggregate_id, type, data, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now()
		}
		data := string(e.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := q.ExecContext(ctx, query, e.ID, e.AggregateID, string(e.Type), data, e.Version, e.CreatedAt); err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, err)
		}
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var rows []eventRow
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY version ASC`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return toEvents(rows), nil
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	var rows []eventRow
	err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE type = ? ORDER BY created_at ASC, id ASC`), string(eventType))
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return toEvents(rows), nil
}

func toEvents(rows []eventRow) []event.Event {
	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, event.Event{
			ID:          r.ID,
			AggregateID: r.AggregateID,
			Type:        event.Type(r.Type),
			Data:        r.Data,
			Version:     r.Version,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	return events
}
