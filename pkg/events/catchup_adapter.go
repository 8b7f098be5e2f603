package events

import (
	"context"
	"encoding/json"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// StoreCatchupAdapter adapts *statestore.Store into a CatchupQuerier for
// ConnectionManager.
type StoreCatchupAdapter struct {
	store *statestore.Store
}

// NewStoreCatchupAdapter creates a CatchupQuerier backed by the state store.
func NewStoreCatchupAdapter(store *statestore.Store) *StoreCatchupAdapter {
	return &StoreCatchupAdapter{store: store}
}

// GetCatchupEvents queries events since sinceID up to limit for catch-up.
func (a *StoreCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := a.store.EventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(rows))
	for i, row := range rows {
		var payload map[string]interface{}
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			payload = map[string]interface{}{}
		}
		result[i] = CatchupEvent{
			ID:      int(row.ID),
			Payload: payload,
		}
	}
	return result, nil
}
