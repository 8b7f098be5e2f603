package memory

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ConsolidationLock guards simultaneous memory-backup vs.
// memory-consolidation passes: an in-process lock, plus a marker file left
// on disk so an external backup script can still check for contention.
type ConsolidationLock struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewConsolidationLock creates a lock that also drops a marker file at
// dataDir/memory.lock while held, for cooperating external scripts.
func NewConsolidationLock(dataDir string, logger *slog.Logger) *ConsolidationLock {
	return &ConsolidationLock{path: filepath.Join(dataDir, "memory.lock"), logger: logger}
}

// Acquire blocks until the lock is free, logging once if it had to wait.
// The returned func releases the lock and removes the marker file.
func (l *ConsolidationLock) Acquire(holder string) func() {
	if !l.mu.TryLock() {
		l.logger.Info("memory lock contended, waiting", "holder", holder)
		l.mu.Lock()
	}
	_ = os.WriteFile(l.path, []byte(holder), 0o644)
	return func() {
		_ = os.Remove(l.path)
		l.mu.Unlock()
	}
}
