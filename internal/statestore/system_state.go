package statestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// SystemStateItem is one row of system_state (hardware, network, lifecycle
// facts, e.g. the "pending restart" lifecycle flag).
type SystemStateItem struct {
	Item        string
	Details     json.RawMessage
	Category    string
	LastUpdated time.Time
}

// GetSystemState reads one system_state row.
func (s *Store) GetSystemState(ctx context.Context, item string) (*SystemStateItem, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT item, details, category, last_updated FROM system_state WHERE item = $1`, item)
	var rec SystemStateItem
	if err := row.Scan(&rec.Item, &rec.Details, &rec.Category, &rec.LastUpdated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SetSystemState upserts a system_state row.
func (s *Store) SetSystemState(ctx context.Context, item string, details json.RawMessage, category string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO system_state (item, details, category, last_updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (item) DO UPDATE SET details = $2, category = $3, last_updated = now()`,
		item, details, category)
	return err
}

// SystemStateByCategory lists rows for a category (e.g. "lifecycle"), used by
// GET /admin/system-status.
func (s *Store) SystemStateByCategory(ctx context.Context, category string) ([]SystemStateItem, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT item, details, category, last_updated FROM system_state WHERE category = $1`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SystemStateItem
	for rows.Next() {
		var rec SystemStateItem
		if err := rows.Scan(&rec.Item, &rec.Details, &rec.Category, &rec.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
