package memory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AuditFacts' store-touching branches (reinforce/contradict) need a live
// pool and are covered by internal/statestore's integration tests; these
// cases exercise the branches that never reach the store: ground-truth
// exemption and unknown verdicts.

func TestAuditFacts_SkipsGroundTruthFacts(t *testing.T) {
	c := &Client{logger: slog.New(slog.DiscardHandler)}
	facts := []statestore.Fact{{ID: 1, Confidence: 0.95}, {ID: 2, Confidence: 0.99}}

	calls := 0
	audited, err := c.AuditFacts(context.Background(), facts, func(ctx context.Context, f statestore.Fact) (string, error) {
		calls++
		return "contradicted", nil
	}, c.logger)

	require.NoError(t, err)
	assert.Equal(t, 2, calls, "verdictFn still runs; it's adjustFactConfidence that no-ops on ground truth")
	assert.Equal(t, 2, audited)
}

func TestAuditFacts_UnknownVerdictLeavesFactUntouched(t *testing.T) {
	c := &Client{logger: slog.New(slog.DiscardHandler)}
	facts := []statestore.Fact{{ID: 1, Confidence: 0.5}}

	audited, err := c.AuditFacts(context.Background(), facts, func(ctx context.Context, f statestore.Fact) (string, error) {
		return "unknown", nil
	}, c.logger)

	require.NoError(t, err)
	assert.Equal(t, 0, audited)
}

func TestAuditFacts_VerdictErrorSkipsFact(t *testing.T) {
	c := &Client{logger: slog.New(slog.DiscardHandler)}
	facts := []statestore.Fact{{ID: 1, Confidence: 0.5}}

	audited, err := c.AuditFacts(context.Background(), facts, func(ctx context.Context, f statestore.Fact) (string, error) {
		return "", assertErr
	}, c.logger)

	require.NoError(t, err)
	assert.Equal(t, 0, audited)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
