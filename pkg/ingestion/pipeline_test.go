package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	mu   sync.Mutex
	rows map[string]historyRow
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{rows: make(map[string]historyRow)}
}

func (f *fakeHistory) FindByHash(_ context.Context, hash string) (*historyRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[hash]; ok {
		return &row, nil
	}
	return nil, nil
}

func (f *fakeHistory) RecordIngestion(_ context.Context, r historyRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.FileHash] = r
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// newTestPipeline builds a pipeline over a temp directory tree with a stub
// retrieval backend that records every ingest POST.
func newTestPipeline(t *testing.T, history *fakeHistory) (*Pipeline, string, *[]string) {
	t.Helper()

	root := t.TempDir()
	ingestDir := filepath.Join(root, "ingest")

	var ingested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if name, ok := body["filename"].(string); ok {
			ingested = append(ingested, name)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	// A zero-width night window keeps the deferred sweep from firing no
	// matter what wall-clock hour the test runs at.
	cfg := Config{
		IngestDir:        ingestDir,
		NightWindowStart: 0,
		NightWindowEnd:   0,
		Location:         time.UTC,
	}
	p := New(cfg, history, NewRetrievalClient(srv.URL, nil), nil, nil, nil, nil, nopLogger{})
	require.NoError(t, p.EnsureDirs())
	return p, root, &ingested
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunOnce_ProcessesAndFiles(t *testing.T) {
	history := newFakeHistory()
	p, root, ingested := newTestPipeline(t, history)

	writeFile(t, filepath.Join(root, "ingest", "note.txt"), "a note about things")
	p.RunOnce(context.Background())

	entries, err := os.ReadDir(filepath.Join(root, "processed"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "note.txt")
	assert.Contains(t, names, "note_transcript.md")
	assert.Equal(t, []string{"note.txt"}, *ingested)
	assert.Len(t, history.rows, 1)
}

func TestRunOnce_DedupMovesDuplicate(t *testing.T) {
	history := newFakeHistory()
	p, root, _ := newTestPipeline(t, history)

	writeFile(t, filepath.Join(root, "ingest", "foo.txt"), "identical content")
	p.RunOnce(context.Background())

	// Same bytes, second arrival: must land in duplicates/ without a second
	// history row.
	writeFile(t, filepath.Join(root, "ingest", "foo.txt"), "identical content")
	p.RunOnce(context.Background())

	dups, err := os.ReadDir(filepath.Join(root, "duplicates"))
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "foo.txt", dups[0].Name())
	assert.Len(t, history.rows, 1)

	processed, err := os.ReadDir(filepath.Join(root, "processed"))
	require.NoError(t, err)
	assert.Len(t, processed, 2) // original + sidecar only
}

func TestRunOnce_PausedSentinelStopsEverything(t *testing.T) {
	history := newFakeHistory()
	p, root, ingested := newTestPipeline(t, history)

	writeFile(t, filepath.Join(root, "ingest", ".paused"), "maintenance window")
	writeFile(t, filepath.Join(root, "ingest", "waiting.txt"), "should not be touched")
	p.RunOnce(context.Background())

	assert.Empty(t, *ingested)
	_, err := os.Stat(filepath.Join(root, "ingest", "waiting.txt"))
	assert.NoError(t, err)

	paused, reason := p.Paused()
	assert.True(t, paused)
	assert.Equal(t, "maintenance window", reason)
}

func TestRunOnce_HeavyFileDeferredUntilNightWindow(t *testing.T) {
	history := newFakeHistory()
	p, root, _ := newTestPipeline(t, history)

	// An mp3 is always heavy regardless of size.
	writeFile(t, filepath.Join(root, "ingest", "talk.mp3"), "fake audio bytes")
	p.RunOnce(context.Background())

	_, err := os.Stat(filepath.Join(root, "deferred", "talk.mp3"))
	assert.NoError(t, err)
}

func TestRunOnce_TranscriptRecursionRoutesToReview(t *testing.T) {
	history := newFakeHistory()
	p, root, _ := newTestPipeline(t, history)

	writeFile(t, filepath.Join(root, "ingest", "old_transcript.md"), "---\nkb_id: x\n---\nbody")
	p.RunOnce(context.Background())

	_, err := os.Stat(filepath.Join(root, "review", "old_transcript.md"))
	assert.NoError(t, err)
	assert.Empty(t, history.rows)
}

func TestRunOnce_EmptyContentRejected(t *testing.T) {
	history := newFakeHistory()
	p, root, _ := newTestPipeline(t, history)

	writeFile(t, filepath.Join(root, "ingest", "empty.txt"), "   \n ")
	p.RunOnce(context.Background())

	_, err := os.Stat(filepath.Join(root, "rejected", "empty.txt"))
	assert.NoError(t, err)
}

func TestFile_CollisionRenamesWithTimestamp(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "incoming")
	processed := filepath.Join(root, "processed")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.MkdirAll(processed, 0o755))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	src1 := filepath.Join(srcDir, "doc.txt")
	writeFile(t, src1, "v1")
	res1, err := file(src1, processed, DefaultClassification(), "v1", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(processed, "doc.txt"), res1.TargetPath)

	src2 := filepath.Join(srcDir, "doc.txt")
	writeFile(t, src2, "v2")
	res2, err := file(src2, processed, DefaultClassification(), "v2", now)
	require.NoError(t, err)
	assert.NotEqual(t, res1.TargetPath, res2.TargetPath)
	assert.Contains(t, filepath.Base(res2.TargetPath), "doc_")

	sidecar, err := os.ReadFile(res1.SidecarPath)
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), "kb_id: default")
	assert.Contains(t, string(sidecar), "v1")
}
