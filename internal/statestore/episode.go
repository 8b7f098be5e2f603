package statestore

import (
	"context"
	"encoding/json"
	"time"
)

// Episode mirrors the episode table: an unconsolidated conversation turn
// set.
type Episode struct {
	ID           int64
	RequestID    string
	Messages     json.RawMessage
	Consolidated bool
	CreatedAt    time.Time
}

// InsertEpisode records a new episode, created by the agent loop after a
// completion.
func (s *Store) InsertEpisode(ctx context.Context, requestID string, messages json.RawMessage) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO episode (request_id, messages, consolidated)
		VALUES ($1, $2, false) RETURNING id`, requestID, messages).Scan(&id)
	return id, err
}

// UnconsolidatedEpisodes returns episodes not yet consolidated, up to limit,
// for the consolidation task to drain.
func (s *Store) UnconsolidatedEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, request_id, messages, consolidated, created_at
		FROM episode WHERE NOT consolidated ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Messages, &e.Consolidated, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkConsolidated flips the consolidated flag after fact extraction.
func (s *Store) MarkConsolidated(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE episode SET consolidated = true WHERE id = $1`, id)
	return err
}
