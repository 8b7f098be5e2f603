package memory

import (
	"context"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// SyncSovereign mirrors one brain-directory markdown file into the store,
// satisfying pkg/ingestion.SovereignSyncer. The store stamps last_synced
// itself; disk mtime is only compared, never persisted.
func (c *Client) SyncSovereign(ctx context.Context, kbID, path, content string) error {
	return c.SyncSovereignFile(ctx, statestore.SovereignFile{KBID: kbID, Path: path, Content: content})
}

// AllSovereignContents returns every mirrored file's content keyed by kb_id,
// consumed by the Agent Engine's system-prompt context injection.
func (c *Client) AllSovereignContents(ctx context.Context) (map[string]string, error) {
	files, err := c.AllSovereignFiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.KBID] = f.Content
	}
	return out, nil
}

// SovereignLastSynced reports when kbID's mirror was last refreshed, and
// whether a mirror exists at all.
func (c *Client) SovereignLastSynced(ctx context.Context, kbID string) (time.Time, bool, error) {
	f, err := c.SovereignFile(ctx, kbID)
	if err != nil {
		return time.Time{}, false, err
	}
	if f == nil {
		return time.Time{}, false, nil
	}
	return f.LastSynced, true, nil
}
