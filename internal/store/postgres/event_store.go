package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhooks/matchbook/internal/domain"
)

// EventStore implements domain.EventStore as an append-only audit log. Event
// payloads are stored as JSONB; List returns the payloads as raw decoded
// maps, which is sufficient for audit inspection.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Log appends one event. Replays of the same event ID are skipped.
func (s *EventStore) Log(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, type, at, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.At, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: log event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events ordered by time, oldest first.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT id, type, at, data FROM events`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" WHERE at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY at"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var typ string
		var data []byte
		if err := rows.Scan(&ev.ID, &typ, &ev.At, &data); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("postgres: decode event %s: %w", ev.ID, err)
		}
		ev.Data = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
