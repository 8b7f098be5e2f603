// Package ingestion is the Ingestion Pipeline: a watch-directory pipeline
// that dedups, triages (light/heavy), extracts
// content from heterogeneous formats, enriches with LLM classification,
// submits to a retrieval backend and knowledge graph, and files artifacts
// with collision-safe rename, built as a pipeline of small, independently
// testable stages.
package ingestion

import (
	"path/filepath"
	"time"
)

// SupportedExtensions lists what the pipeline accepts. Audio and video are
// accepted (and immediately triaged heavy) but never extracted locally —
// there is no local transcription path for them.
var SupportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".pdf": true, ".csv": true,
	".png": true, ".jpg": true, ".jpeg": true,
	".mp3": true, ".m4a": true, ".mp4": true,
}

// Heavy-file triage thresholds.
const (
	HeavyFileSizeBytes    = 10 * 1024 * 1024
	HeavyPDFSizeBytes     = 2 * 1024 * 1024
	ScannedPDFTextMinimum = 500
	MaxOCRPages           = 5
)

// Config points the pipeline at its directory tree and tuning knobs. All
// directories besides IngestDir/BrainDir are created as siblings of
// IngestDir, never children, so the watcher doesn't see its own output.
type Config struct {
	IngestDir string
	BrainDir  string // optional; "" disables the brain mirror sweep

	RetrievalBaseURL string // POST {base}/ingest, {base}/ingest/graph
	ClassifierModel  string
	VisionModel      string

	// NightWindowStart/End are local hours in [0,24); wrap-around allowed
	// (e.g. start=23, end=5).
	NightWindowStart int
	NightWindowEnd   int

	Location *time.Location

	PollInterval time.Duration
}

func (c Config) deferredDir() string   { return filepath.Join(filepath.Dir(c.IngestDir), "deferred") }
func (c Config) processedDir() string  { return filepath.Join(filepath.Dir(c.IngestDir), "processed") }
func (c Config) reviewDir() string     { return filepath.Join(filepath.Dir(c.IngestDir), "review") }
func (c Config) duplicatesDir() string { return filepath.Join(filepath.Dir(c.IngestDir), "duplicates") }
func (c Config) rejectedDir() string   { return filepath.Join(filepath.Dir(c.IngestDir), "rejected") }

// Dirs returns every directory the pipeline needs to exist before its first
// run, for the caller to mkdir -p at startup.
func (c Config) Dirs() []string {
	dirs := []string{c.IngestDir, c.deferredDir(), c.processedDir(), c.reviewDir(), c.duplicatesDir(), c.rejectedDir()}
	if c.BrainDir != "" {
		dirs = append(dirs, c.BrainDir)
	}
	return dirs
}

// InNightWindow reports whether hour (local, [0,24)) falls in the
// configured night window, handling wrap-around.
func (c Config) InNightWindow(hour int) bool {
	if c.NightWindowStart <= c.NightWindowEnd {
		return hour >= c.NightWindowStart && hour < c.NightWindowEnd
	}
	return hour >= c.NightWindowStart || hour < c.NightWindowEnd
}

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 60 * time.Second
