package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HistoryStore is the dedup persistence surface,
// narrowed from internal/statestore so tests can fake the ingestion_history
// table.
type HistoryStore interface {
	FindByHash(ctx context.Context, hash string) (*historyRow, error)
	RecordIngestion(ctx context.Context, r historyRow) error
}

// historyRow mirrors statestore.IngestionHistoryRow's fields the pipeline
// needs; kept as its own type so this package doesn't import
// internal/statestore directly (the adapter in store_adapter.go does the
// field-for-field copy).
type historyRow struct {
	FileHash string
	KBID     string
	FilePath string
	FileSize int64
}

// hashFile computes the SHA-256 of path, reading in chunks so large files
// don't require loading into memory.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("ingestion: hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// dedupOutcome is what the pipeline does next for a candidate file based on
// its hash lookup.
type dedupOutcome int

const (
	dedupNew          dedupOutcome = iota
	dedupSkipSilently              // brain-mirror duplicate: already ingested, leave in place
	dedupMoveAway                  // non-brain duplicate: move to duplicates/
)

func checkDedup(ctx context.Context, store HistoryStore, hash string, isBrainFile bool) (dedupOutcome, error) {
	row, err := store.FindByHash(ctx, hash)
	if err != nil {
		return dedupNew, fmt.Errorf("ingestion: dedup lookup: %w", err)
	}
	if row == nil {
		return dedupNew, nil
	}
	if isBrainFile {
		return dedupSkipSilently, nil
	}
	return dedupMoveAway, nil
}
