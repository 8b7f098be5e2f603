package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
)

// ExtractedFact is one (entity, relation, target) triple an episode
// consolidation pass pulled out of a conversation, before it becomes a
// statestore.Fact.
type ExtractedFact struct {
	Entity     string
	Relation   string
	Target     string
	Context    string
	Confidence float64
}

// FactExtractor turns an episode's messages into candidate facts. The Agent
// Engine's LLM provider implements this (a classifier prompt over the
// episode transcript); kept as an interface here so pkg/memory never imports
// pkg/agent (agent depends on memory, not the reverse).
type FactExtractor interface {
	ExtractFacts(ctx context.Context, kbID string, messages []byte) ([]ExtractedFact, error)
}

// Consolidate drains up to batchSize unconsolidated episodes, extracts facts
// from each via extractor, upserts them under kbID, and marks the episode
// consolidated. It holds lock for its duration, preserving the
// memory-backup/consolidation mutual exclusion.
func (c *Client) Consolidate(ctx context.Context, lock *ConsolidationLock, extractor FactExtractor, kbID string, batchSize int) (int, error) {
	release := lock.Acquire("consolidation")
	defer release()

	episodes, err := c.PendingEpisodes(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("consolidate: %w", err)
	}

	consolidated := 0
	for _, ep := range episodes {
		facts, err := extractor.ExtractFacts(ctx, kbID, ep.Messages)
		if err != nil {
			c.logger.Warn("fact extraction failed, episode left unconsolidated", "episode_id", ep.ID, "error", err)
			continue
		}
		for _, f := range facts {
			confidence := f.Confidence
			if confidence == 0 {
				confidence = 0.5
			}
			if _, err := c.StoreFact(ctx, statestore.Fact{
				Entity:     f.Entity,
				Relation:   f.Relation,
				Target:     f.Target,
				Context:    f.Context,
				Confidence: confidence,
				KBID:       kbID,
			}); err != nil {
				c.logger.Warn("failed to store extracted fact", "episode_id", ep.ID, "error", err)
			}
		}
		if err := c.MarkConsolidated(ctx, ep.ID); err != nil {
			c.logger.Warn("failed to mark episode consolidated", "episode_id", ep.ID, "error", err)
			continue
		}
		consolidated++
	}
	return consolidated, nil
}

// AuditFacts re-evaluates a batch of facts against a supported/contradicted
// verdict supplied by verdictFn (an LLM-backed re-check), applying the
// ReinforceFact/ContradictFact deltas. Verdicts of "unknown" leave the fact
// untouched.
func (c *Client) AuditFacts(ctx context.Context, facts []statestore.Fact, verdictFn func(ctx context.Context, f statestore.Fact) (string, error), logger *slog.Logger) (int, error) {
	audited := 0
	for _, f := range facts {
		verdict, err := verdictFn(ctx, f)
		if err != nil {
			logger.Warn("fact audit verdict failed", "fact_id", f.ID, "error", err)
			continue
		}
		switch verdict {
		case "supported":
			if err := c.ReinforceFact(ctx, f); err != nil {
				logger.Warn("reinforce fact failed", "fact_id", f.ID, "error", err)
				continue
			}
		case "contradicted":
			if err := c.ContradictFact(ctx, f); err != nil {
				logger.Warn("contradict fact failed", "fact_id", f.ID, "error", err)
				continue
			}
		default:
			continue
		}
		audited++
	}
	return audited, nil
}
