package statestore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// IngestionHistoryRow mirrors the ingestion_history table, the source of
// truth for dedup.
type IngestionHistoryRow struct {
	FileHash   string
	KBID       string
	FilePath   string
	FileSize   int64
	IngestedAt time.Time
}

// FindByHash looks up a prior ingestion by SHA-256 hash. Returns (nil, nil)
// if the hash has never been seen.
func (s *Store) FindByHash(ctx context.Context, hash string) (*IngestionHistoryRow, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT file_hash, kb_id, file_path, file_size, ingested_at FROM ingestion_history WHERE file_hash = $1`, hash)
	var r IngestionHistoryRow
	if err := row.Scan(&r.FileHash, &r.KBID, &r.FilePath, &r.FileSize, &r.IngestedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// RecordIngestion inserts a new ingestion_history row. The unique index on
// file_hash is what makes this the single source of truth for dedup: a second
// caller racing on the same hash gets a unique-violation error, which
// RecordIngestion reports rather than swallows, so callers can treat it as
// "someone else just won the race" and fall through to the duplicate path.
func (s *Store) RecordIngestion(ctx context.Context, r IngestionHistoryRow) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO ingestion_history (file_hash, kb_id, file_path, file_size, ingested_at)
		VALUES ($1, $2, $3, $4, now())`, r.FileHash, r.KBID, r.FilePath, r.FileSize)
	return err
}
