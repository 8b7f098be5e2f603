package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Outcome classifies what happened to one candidate file: every candidate
// resolves to exactly one of these.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDuplicate
	OutcomeDeferred
	OutcomeQualityReject
	OutcomeRecursion
	OutcomeExtractionFail
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeQualityReject:
		return "quality_reject"
	case OutcomeRecursion:
		return "recursion"
	case OutcomeExtractionFail:
		return "extraction_fail"
	default:
		return "skipped"
	}
}

// SovereignSyncer mirrors a brain-directory markdown file into the state
// store. Implemented by pkg/memory.
type SovereignSyncer interface {
	SyncSovereign(ctx context.Context, kbID, path, content string) error
	SovereignLastSynced(ctx context.Context, kbID string) (time.Time, bool, error)
}

// Logger narrows slog.Logger to what the pipeline uses, avoiding a direct
// dependency for tests that want to drop logs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pipeline drives one watched ingest directory. Iterations are
// serialized by mu; hashing runs through a bounded semaphore standing in
// for the worker pool.
type Pipeline struct {
	cfg       Config
	store     HistoryStore
	retrieval *RetrievalClient
	classify  Classifier
	graph     GraphExtractor
	vision    VisionDescriber
	sovereign SovereignSyncer
	logger    Logger

	mu      sync.Mutex
	hashSem chan struct{}
}

// New builds a Pipeline. retrieval is required; classify/graph/vision/
// sovereign may be nil, degrading the corresponding stage (defaults on
// classify, no graph mirror, no image OCR, no sovereign sync).
func New(cfg Config, store HistoryStore, retrieval *RetrievalClient, classify Classifier, graph GraphExtractor, vision VisionDescriber, sovereign SovereignSyncer, logger Logger) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		retrieval: retrieval,
		classify:  classify,
		graph:     graph,
		vision:    vision,
		sovereign: sovereign,
		logger:    logger,
		hashSem:   make(chan struct{}, 4),
	}
}

// Paused reports whether the .paused sentinel is present, and its contents
// (the reason string) if so.
func (p *Pipeline) Paused() (bool, string) {
	data, err := os.ReadFile(filepath.Join(p.cfg.IngestDir, ".paused"))
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(string(data))
}

// triggerNowPresent reports whether the .trigger_now sentinel forces a
// deferred pass outside the night window.
func (p *Pipeline) triggerNowPresent() bool {
	_, err := os.Stat(filepath.Join(p.cfg.IngestDir, ".trigger_now"))
	return err == nil
}

// RunOnce performs one pipeline iteration: the light sweep over ingest/,
// then — inside the night window or when .trigger_now is present — the
// deferred sweep, then the brain mirror sweep. Returns immediately when
// another iteration holds the lock or the .paused sentinel is present.
func (p *Pipeline) RunOnce(ctx context.Context) {
	if !p.mu.TryLock() {
		return
	}
	defer p.mu.Unlock()

	if paused, reason := p.Paused(); paused {
		p.logger.Info("ingestion paused", "reason", reason)
		return
	}

	p.sweep(ctx, p.cfg.IngestDir, false)

	now := time.Now().In(p.cfg.Location)
	if p.cfg.InNightWindow(now.Hour()) || p.triggerNowPresent() {
		p.sweep(ctx, p.cfg.deferredDir(), true)
		if err := os.Remove(filepath.Join(p.cfg.IngestDir, ".trigger_now")); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("could not remove trigger sentinel", "error", err)
		}
	}

	if p.cfg.BrainDir != "" {
		p.sweepBrain(ctx)
	}
}

// sweep processes every candidate file directly under dir. deferredPass
// suppresses heavy triage so already-deferred files actually run.
func (p *Pipeline) sweep(ctx context.Context, dir string, deferredPass bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Error("ingestion sweep failed", "dir", dir, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		outcome := p.processFile(ctx, path, deferredPass)
		p.logger.Info("ingestion candidate processed", "file", entry.Name(), "outcome", outcome.String())
	}
}

// processFile runs one candidate through triage → dedup → extract → enrich
// → submit → file, relocating it according to the outcome.
func (p *Pipeline) processFile(ctx context.Context, path string, deferredPass bool) Outcome {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExtensions[ext] {
		if err := moveTo(path, p.cfg.reviewDir()); err != nil {
			p.logger.Error("could not move unsupported file", "file", path, "error", err)
		}
		return OutcomeSkipped
	}

	info, err := os.Stat(path)
	if err != nil {
		p.logger.Warn("candidate vanished before processing", "file", path)
		return OutcomeSkipped
	}

	if !deferredPass && isHeavy(ext, info.Size()) {
		if err := moveTo(path, p.cfg.deferredDir()); err != nil {
			p.logger.Error("could not defer heavy file", "file", path, "error", err)
			return OutcomeSkipped
		}
		return OutcomeDeferred
	}

	hash, err := p.hashInPool(ctx, path)
	if err != nil {
		p.logger.Error("hashing failed", "file", path, "error", err)
		return OutcomeSkipped
	}

	switch outcome, err := checkDedup(ctx, p.store, hash, false); {
	case err != nil:
		p.logger.Error("dedup lookup failed", "file", path, "error", err)
		return OutcomeSkipped
	case outcome == dedupMoveAway:
		if err := moveTo(path, p.cfg.duplicatesDir()); err != nil {
			p.logger.Error("could not move duplicate", "file", path, "error", err)
		}
		return OutcomeDuplicate
	}

	content, err := p.extract(ctx, path, ext)
	if err != nil {
		var qe *QualityError
		if errors.As(err, &qe) {
			dest := p.cfg.rejectedDir()
			out := OutcomeQualityReject
			if qe.isRecursion() {
				dest = p.cfg.reviewDir()
				out = OutcomeRecursion
			}
			if moveErr := moveTo(path, dest); moveErr != nil {
				p.logger.Error("could not relocate quality-gated file", "file", path, "error", moveErr)
			}
			return out
		}
		p.logger.Warn("extraction failed", "file", path, "error", err)
		if moveErr := moveTo(path, p.cfg.reviewDir()); moveErr != nil {
			p.logger.Error("could not move failed extraction", "file", path, "error", moveErr)
		}
		return OutcomeExtractionFail
	}

	classification := classify(ctx, p.classify, filepath.Base(path), content)

	if err := p.submit(ctx, path, content, classification); err != nil {
		p.logger.Error("retrieval submission failed", "file", path, "error", err)
		if moveErr := moveTo(path, p.cfg.reviewDir()); moveErr != nil {
			p.logger.Error("could not move unsubmitted file", "file", path, "error", moveErr)
		}
		return OutcomeExtractionFail
	}

	filed, err := file(path, p.cfg.processedDir(), classification, content, time.Now().In(p.cfg.Location))
	if err != nil {
		p.logger.Error("filing failed", "file", path, "error", err)
		return OutcomeExtractionFail
	}

	// Hash is marked seen only after the move succeeded.
	if err := p.store.RecordIngestion(ctx, historyRow{
		FileHash: hash, KBID: classification.KBID, FilePath: filed.TargetPath, FileSize: info.Size(),
	}); err != nil {
		p.logger.Error("could not record ingestion history", "file", path, "error", err)
	}
	return OutcomeOK
}

// extract wraps extractText with the recursion guard: a previously filed
// sidecar transcript wandering back into ingest/ is routed to review/, not
// re-ingested.
func (p *Pipeline) extract(ctx context.Context, path, ext string) (string, error) {
	if strings.HasSuffix(strings.TrimSuffix(filepath.Base(path), ext), "_transcript") {
		return "", NewRecursionError("filed transcript re-entered the ingest directory")
	}
	content, err := extractText(ctx, path, ext, p.vision)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(content, "---\nkb_id:") {
		return "", NewRecursionError("content carries a sidecar front-matter header")
	}
	if strings.TrimSpace(content) == "" {
		return "", NewQualityError("no extractable content")
	}
	return content, nil
}

// submit posts the extracted content to the retrieval backend and mirrors
// entities/relations into the knowledge graph. A graph failure is logged
// and swallowed; the retrieval POST is the gating step.
func (p *Pipeline) submit(ctx context.Context, path, content string, c Classification) error {
	metadata := map[string]any{
		"authority":   c.Authority,
		"shadow_tags": c.ShadowTags,
		"source":      filepath.Base(path),
	}
	if err := p.retrieval.Ingest(ctx, filepath.Base(path), content, c.KBID, metadata, c.GlobalSummary); err != nil {
		return err
	}

	if p.graph == nil {
		return nil
	}
	extraction, err := p.graph.ExtractGraph(ctx, content)
	if err != nil {
		p.logger.Warn("graph extraction failed", "file", path, "error", err)
		return nil
	}
	if err := p.retrieval.IngestGraph(ctx, filepath.Base(path), extraction); err != nil {
		p.logger.Warn("graph submission failed", "file", path, "error", err)
	}
	return nil
}

// sweepBrain mirrors markdown files under BrainDir into the sovereign store
// when their mtime moved past the last sync, and submits changed content to
// the retrieval backend with silent hash dedup. Brain files are
// never moved.
func (p *Pipeline) sweepBrain(ctx context.Context) {
	_ = filepath.WalkDir(p.cfg.BrainDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.syncBrainFile(ctx, path)
		return nil
	})
}

func (p *Pipeline) syncBrainFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	kbID := brainKBID(p.cfg.BrainDir, path)

	if p.sovereign != nil {
		last, found, err := p.sovereign.SovereignLastSynced(ctx, kbID)
		if err != nil {
			p.logger.Error("sovereign lookup failed", "kb_id", kbID, "error", err)
			return
		}
		if found && !info.ModTime().After(last) {
			return
		}
		content, err := extractPlainText(path)
		if err != nil {
			p.logger.Warn("could not read sovereign file", "path", path, "error", err)
			return
		}
		if err := p.sovereign.SyncSovereign(ctx, kbID, path, content); err != nil {
			p.logger.Error("sovereign sync failed", "kb_id", kbID, "error", err)
			return
		}
	}

	hash, err := p.hashInPool(ctx, path)
	if err != nil {
		return
	}
	outcome, err := checkDedup(ctx, p.store, hash, true)
	if err != nil || outcome == dedupSkipSilently {
		return
	}
	content, err := extractPlainText(path)
	if err != nil {
		return
	}
	classification := classify(ctx, p.classify, filepath.Base(path), content)
	classification.KBID = kbID
	if err := p.retrieval.Ingest(ctx, filepath.Base(path), content, kbID, map[string]any{"sovereign": true}, classification.GlobalSummary); err != nil {
		p.logger.Warn("brain mirror submission failed", "path", path, "error", err)
		return
	}
	if err := p.store.RecordIngestion(ctx, historyRow{FileHash: hash, KBID: kbID, FilePath: path, FileSize: info.Size()}); err != nil {
		p.logger.Error("could not record brain ingestion", "path", path, "error", err)
	}
}

// brainKBID derives the knowledge-base partition from a brain file's path
// relative to the brain root.
func brainKBID(brainDir, path string) string {
	rel, err := filepath.Rel(brainDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// hashInPool computes the file hash through the bounded hashing semaphore.
func (p *Pipeline) hashInPool(ctx context.Context, path string) (string, error) {
	select {
	case p.hashSem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.hashSem }()

	type result struct {
		hash string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := hashFile(path)
		ch <- result{h, err}
	}()
	select {
	case r := <-ch:
		return r.hash, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EnsureDirs creates the pipeline's directory tree.
func (p *Pipeline) EnsureDirs() error {
	for _, dir := range p.cfg.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ingestion: create %s: %w", dir, err)
		}
	}
	return nil
}
