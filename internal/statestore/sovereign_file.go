package statestore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// SovereignFile mirrors the sovereign_file table: the store-side read cache
// of a disk markdown file.
type SovereignFile struct {
	KBID       string
	Path       string
	Content    string
	LastSynced time.Time
}

// UpsertSovereignFile writes or refreshes the mirror, called by the ingestor
// whenever it observes a newer mtime on disk.
func (s *Store) UpsertSovereignFile(ctx context.Context, f SovereignFile) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sovereign_file (kb_id, path, content, last_synced)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (kb_id) DO UPDATE SET path = $2, content = $3, last_synced = now()`,
		f.KBID, f.Path, f.Content)
	return err
}

// GetSovereignFile reads the mirror for a kb_id, used by the agent to inject
// context.
func (s *Store) GetSovereignFile(ctx context.Context, kbID string) (*SovereignFile, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT kb_id, path, content, last_synced FROM sovereign_file WHERE kb_id = $1`, kbID)
	var f SovereignFile
	if err := row.Scan(&f.KBID, &f.Path, &f.Content, &f.LastSynced); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// AllSovereignFiles lists every mirrored file, used at startup to detect
// files deleted from disk while the process was down.
func (s *Store) AllSovereignFiles(ctx context.Context) ([]SovereignFile, error) {
	rows, err := s.Pool.Query(ctx, `SELECT kb_id, path, content, last_synced FROM sovereign_file`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SovereignFile
	for rows.Next() {
		var f SovereignFile
		if err := rows.Scan(&f.KBID, &f.Path, &f.Content, &f.LastSynced); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
