package statestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConfigItem is one row of config_state.
type ConfigItem struct {
	Key         string
	Value       json.RawMessage
	Source      string
	LastUpdated time.Time
}

// GetConfig reads a single config_state row by key.
func (s *Store) GetConfig(ctx context.Context, key string) (*ConfigItem, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT key, value, source, last_updated FROM config_state WHERE key = $1`, key)
	var item ConfigItem
	if err := row.Scan(&item.Key, &item.Value, &item.Source, &item.LastUpdated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// SetConfig upserts a config_state row.
func (s *Store) SetConfig(ctx context.Context, key string, value json.RawMessage, source string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO config_state (key, value, source, last_updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, source = $3, last_updated = now()`,
		key, value, source)
	return err
}

// AllConfig returns every config_state row, used by the config hot-reload
// scanner to merge state-store overrides on top of the YAML-loaded defaults.
func (s *Store) AllConfig(ctx context.Context) ([]ConfigItem, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key, value, source, last_updated FROM config_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigItem
	for rows.Next() {
		var item ConfigItem
		if err := rows.Scan(&item.Key, &item.Value, &item.Source, &item.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
