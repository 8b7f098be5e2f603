package ingestion

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drives the pipeline from filesystem events on the ingest
// directory, with a poll ticker as both a fallback (network filesystems
// drop events) and the pacing for the deferred/night sweep, which no
// filesystem event announces.
type Watcher struct {
	pipeline *Pipeline
	logger   Logger
}

// NewWatcher builds a Watcher over pipeline.
func NewWatcher(pipeline *Pipeline, logger Logger) *Watcher {
	return &Watcher{pipeline: pipeline, logger: logger}
}

// Run blocks until ctx is cancelled, kicking a pipeline iteration on every
// batch of filesystem events and on every poll tick. Events are debounced
// for a short settle window so a file still being written isn't picked up
// mid-copy.
func (w *Watcher) Run(ctx context.Context) {
	kick := make(chan struct{}, 1)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		defer fsWatcher.Close()
		if err := fsWatcher.Add(w.pipeline.cfg.IngestDir); err != nil {
			w.logger.Warn("could not watch ingest dir, polling only", "dir", w.pipeline.cfg.IngestDir, "error", err)
		} else {
			go w.relayEvents(ctx, fsWatcher, kick)
		}
	}

	ticker := time.NewTicker(w.pipeline.cfg.PollInterval)
	defer ticker.Stop()

	// Initial pass picks up anything that arrived while the process was down.
	w.pipeline.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			w.pipeline.RunOnce(ctx)
		case <-ticker.C:
			w.pipeline.RunOnce(ctx)
		}
	}
}

// relayEvents coalesces create/write events into single kicks after a
// settle delay.
func (w *Watcher) relayEvents(ctx context.Context, fsWatcher *fsnotify.Watcher, kick chan<- struct{}) {
	const settle = 2 * time.Second
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(settle, func() {
				select {
				case kick <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ingest watch error", "error", err)
		}
	}
}
