// Package memory is the Memory Client: the durable store of facts,
// episodes, sovereign-file mirrors, and tool-rating analytics, built
// directly on internal/statestore. This
// package owns the business rules (confidence clamping, consolidation
// bookkeeping) that sit above the raw SQL in internal/statestore.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// GroundTruthConfidence is the threshold at or above which a fact is
// considered ground-truth and exempt from the audit task's clamp.
const GroundTruthConfidence = 0.95

// Supported/contradicted confidence deltas applied by the fact-confidence
// audit task.
const (
	ConfidenceDeltaSupported    = 0.1
	ConfidenceDeltaContradicted = -0.3
)

// Client is the Memory Client: every fact/episode/sovereign-file/tool-rating
// mutation in the system goes through it rather than touching
// internal/statestore directly, so write-own and clamping rules are
// enforced in exactly one place.
type Client struct {
	store  *statestore.Store
	logger *slog.Logger
}

// New builds a Memory Client over an already-open state store.
func New(store *statestore.Store, logger *slog.Logger) *Client {
	return &Client{store: store, logger: logger}
}

// StoreFact upserts a fact, forcing kb_id to the caller-supplied value. The
// Write-Own interceptor (pkg/mcpserver) is responsible for substituting the
// authenticated client's own name before this method is ever reached; this
// method does not re-derive kb_id from a session, only persists whatever it
// is given.
func (c *Client) StoreFact(ctx context.Context, f statestore.Fact) (int64, error) {
	if f.Confidence == 0 {
		f.Confidence = 0.5
	}
	id, err := c.store.UpsertFact(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("store fact: %w", err)
	}
	return id, nil
}

// QueryFacts returns facts for a kb_id, optionally narrowed to one entity.
func (c *Client) QueryFacts(ctx context.Context, kbID, entity string) ([]statestore.Fact, error) {
	facts, err := c.store.QueryFacts(ctx, kbID, entity)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	return facts, nil
}

// DeleteFact removes a fact scoped to kb_id (write-own enforced a second
// time at the query layer, see statestore.DeleteFact).
func (c *Client) DeleteFact(ctx context.Context, id int64, kbID string) error {
	if err := c.store.DeleteFact(ctx, id, kbID); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}

// ReinforceFact applies the audit task's +supported delta, a no-op on
// ground-truth facts.
func (c *Client) ReinforceFact(ctx context.Context, f statestore.Fact) error {
	return c.adjustFactConfidence(ctx, f, ConfidenceDeltaSupported)
}

// ContradictFact applies the audit task's -contradicted delta, a no-op on
// ground-truth facts.
func (c *Client) ContradictFact(ctx context.Context, f statestore.Fact) error {
	return c.adjustFactConfidence(ctx, f, ConfidenceDeltaContradicted)
}

func (c *Client) adjustFactConfidence(ctx context.Context, f statestore.Fact, delta float64) error {
	if f.Confidence >= GroundTruthConfidence {
		return nil
	}
	if err := c.store.AdjustFactConfidence(ctx, f.ID, delta); err != nil {
		return fmt.Errorf("adjust fact confidence: %w", err)
	}
	return nil
}

// RecordEpisode persists a completed conversation turn set for later
// consolidation, called by the Agent Engine after a completion response.
func (c *Client) RecordEpisode(ctx context.Context, requestID string, messages json.RawMessage) (int64, error) {
	id, err := c.store.InsertEpisode(ctx, requestID, messages)
	if err != nil {
		return 0, fmt.Errorf("record episode: %w", err)
	}
	return id, nil
}

// PendingEpisodes returns up to limit unconsolidated episodes for the
// consolidation task to drain.
func (c *Client) PendingEpisodes(ctx context.Context, limit int) ([]statestore.Episode, error) {
	episodes, err := c.store.UnconsolidatedEpisodes(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("pending episodes: %w", err)
	}
	return episodes, nil
}

// MarkConsolidated flips an episode's consolidated flag once its facts have
// been extracted.
func (c *Client) MarkConsolidated(ctx context.Context, id int64) error {
	if err := c.store.MarkConsolidated(ctx, id); err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

// SyncSovereignFile upserts the disk-to-database mirror, called by the
// ingestor whenever it observes a newer mtime.
func (c *Client) SyncSovereignFile(ctx context.Context, f statestore.SovereignFile) error {
	if err := c.store.UpsertSovereignFile(ctx, f); err != nil {
		return fmt.Errorf("sync sovereign file: %w", err)
	}
	return nil
}

// SovereignFile reads the mirror for a kb_id, used by the Agent Engine for
// context injection; returns nil, nil when no file has been synced yet.
func (c *Client) SovereignFile(ctx context.Context, kbID string) (*statestore.SovereignFile, error) {
	f, err := c.store.GetSovereignFile(ctx, kbID)
	if err != nil {
		return nil, fmt.Errorf("get sovereign file: %w", err)
	}
	return f, nil
}

// AllSovereignFiles lists every mirrored file, used at startup to detect
// files removed from disk while the process was down.
func (c *Client) AllSovereignFiles(ctx context.Context) ([]statestore.SovereignFile, error) {
	files, err := c.store.AllSovereignFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sovereign files: %w", err)
	}
	return files, nil
}

// ToolRating returns the reliability/deprecation record for a tool, or nil
// if it has never been evaluated.
func (c *Client) ToolRating(ctx context.Context, tool string) (*statestore.ToolRating, error) {
	r, err := c.store.GetToolRating(ctx, tool)
	if err != nil {
		return nil, fmt.Errorf("get tool rating: %w", err)
	}
	return r, nil
}

// AllToolRatings lists every rated tool, consumed by the Agent Engine's tool
// ranking step to filter deprecated tools.
func (c *Client) AllToolRatings(ctx context.Context) ([]statestore.ToolRating, error) {
	ratings, err := c.store.AllToolRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tool ratings: %w", err)
	}
	return ratings, nil
}

// RateTool writes or replaces a tool_rating row.
func (c *Client) RateTool(ctx context.Context, r statestore.ToolRating) error {
	if err := c.store.UpsertToolRating(ctx, r); err != nil {
		return fmt.Errorf("rate tool: %w", err)
	}
	return nil
}

// DeprecateTool marks a tool deprecated with a human-readable reason.
func (c *Client) DeprecateTool(ctx context.Context, tool, reason string) error {
	if err := c.store.SetToolDeprecated(ctx, tool, reason); err != nil {
		return fmt.Errorf("deprecate tool: %w", err)
	}
	return nil
}
