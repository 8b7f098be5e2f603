package statestore

import (
	"context"
	"encoding/json"
	"time"
)

// EventRow mirrors the ambient events table backing pkg/events' WebSocket
// catch-up mechanism (see migration
// 0002_events).
type EventRow struct {
	ID        int64
	RequestID string
	Channel   string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// InsertEvent persists a notification-bound event for later catch-up.
func (s *Store) InsertEvent(ctx context.Context, requestID, channel string, payload json.RawMessage) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO events (request_id, channel, payload, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`, requestID, channel, payload, time.Now()).Scan(&id)
	return id, err
}

// EventsSince returns events on channel with id > sinceID, oldest first,
// capped at limit — the catch-up query a reconnecting WebSocket client
// issues (pkg/events.CatchupQuerier).
func (s *Store) EventsSince(ctx context.Context, channel string, sinceID, limit int) ([]EventRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, request_id, channel, payload, created_at
		FROM events WHERE channel = $1 AND id > $2
		ORDER BY id LIMIT $3`, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Channel, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
