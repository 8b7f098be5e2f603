package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// getOrCreateSharedDatabase starts one PostgreSQL testcontainer per test
// package run (or uses CI_DATABASE_URL when an external service container
// is provided).
func getOrCreateSharedDatabase(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("container connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr)
	return sharedConnStr
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs Docker; skipped in -short mode")
	}

	ctx := context.Background()
	dsn := getOrCreateSharedDatabase(t)

	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(dsn))
	t.Cleanup(store.Close)
	return store
}

func TestFactUpsertIsUniquePerTriple(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id1, err := store.UpsertFact(ctx, Fact{Entity: "svc", Relation: "depends_on", Target: "db", KBID: "it_facts", Confidence: 0.5})
	require.NoError(t, err)

	// Same (entity, relation, target, kb_id): must update, not duplicate.
	id2, err := store.UpsertFact(ctx, Fact{Entity: "svc", Relation: "depends_on", Target: "db", KBID: "it_facts", Confidence: 0.7, Context: "observed"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	facts, err := store.QueryFacts(ctx, "it_facts", "svc")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.InDelta(t, 0.7, facts[0].Confidence, 0.001)
}

func TestAdjustFactConfidenceClamps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id, err := store.UpsertFact(ctx, Fact{Entity: "e", Relation: "r", Target: "t", KBID: "it_clamp", Confidence: 0.85})
	require.NoError(t, err)

	require.NoError(t, store.AdjustFactConfidence(ctx, id, 0.1))
	facts, err := store.QueryFacts(ctx, "it_clamp", "e")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.InDelta(t, 0.9, facts[0].Confidence, 0.001)

	require.NoError(t, store.AdjustFactConfidence(ctx, id, -0.3))
	require.NoError(t, store.AdjustFactConfidence(ctx, id, -0.3))
	require.NoError(t, store.AdjustFactConfidence(ctx, id, -0.3))
	facts, err = store.QueryFacts(ctx, "it_clamp", "e")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, facts[0].Confidence, 0.001)
}

func TestEpisodeConsolidationFlow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	messages, _ := json.Marshal([]map[string]string{{"role": "user", "content": "hello"}})
	id, err := store.InsertEpisode(ctx, "it-req-1", messages)
	require.NoError(t, err)

	pending, err := store.UnconsolidatedEpisodes(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, ep := range pending {
		if ep.ID == id {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, store.MarkConsolidated(ctx, id))
	pending, err = store.UnconsolidatedEpisodes(ctx, 100)
	require.NoError(t, err)
	for _, ep := range pending {
		assert.NotEqual(t, id, ep.ID)
	}
}

func TestIngestionHistoryDedup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	row := IngestionHistoryRow{FileHash: "it-hash-1", KBID: "default", FilePath: "/x/foo.txt", FileSize: 12}
	require.NoError(t, store.RecordIngestion(ctx, row))

	// The unique index surfaces a second record of the same hash as an
	// error — "someone else just won the race" — rather than a second row.
	require.Error(t, store.RecordIngestion(ctx, row))

	got, err := store.FindByHash(ctx, "it-hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/x/foo.txt", got.FilePath)

	missing, err := store.FindByHash(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEventInsertAndCatchup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"type":"tool_end","request_id":"it-req-2"}`)
	id1, err := store.InsertEvent(ctx, "it-req-2", "request:it-req-2", payload)
	require.NoError(t, err)
	id2, err := store.InsertEvent(ctx, "it-req-2", "request:it-req-2", payload)
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	rows, err := store.EventsSince(ctx, "request:it-req-2", int(id1), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id2, rows[0].ID)
}

func TestSentinelRuleRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddSentinelRule(ctx, `^kubectl get `, true, "read-only", "test"))
	rules, err := store.AllSentinelRules(ctx)
	require.NoError(t, err)

	found := false
	for _, r := range rules {
		if r.Pattern == `^kubectl get ` {
			found = true
			assert.True(t, r.Allowed)
		}
	}
	assert.True(t, found)
}
