package ingestion

import (
	"context"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// StoreHistoryAdapter adapts *statestore.Store into HistoryStore.
type StoreHistoryAdapter struct {
	Store *statestore.Store
}

func (a StoreHistoryAdapter) FindByHash(ctx context.Context, hash string) (*historyRow, error) {
	row, err := a.Store.FindByHash(ctx, hash)
	if err != nil || row == nil {
		return nil, err
	}
	return &historyRow{FileHash: row.FileHash, KBID: row.KBID, FilePath: row.FilePath, FileSize: row.FileSize}, nil
}

func (a StoreHistoryAdapter) RecordIngestion(ctx context.Context, r historyRow) error {
	return a.Store.RecordIngestion(ctx, statestore.IngestionHistoryRow{
		FileHash: r.FileHash, KBID: r.KBID, FilePath: r.FilePath, FileSize: r.FileSize,
	})
}
