package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// hotReloadInterval is the scan cadence.
const hotReloadInterval = 60 * time.Second

// hotReloadLoop periodically re-reads every *.yaml file under dir and
// (re)registers tasks whose content hash changed since the last scan. File
// deletion never unregisters a task; the only way to stop a task from its file is an explicit
// enabled:false or a call to Disable.
func (s *Scheduler) hotReloadLoop(ctx context.Context, dir string) {
	defer s.wg.Done()

	seen := make(map[string]string) // file path -> content hash
	ticker := time.NewTicker(hotReloadInterval)
	defer ticker.Stop()

	scan := func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.logger.Debug("hot-reload scan skipped: cannot read directory", "dir", dir, "error", err)
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("hot-reload could not read task file", "path", path, "error", err)
				continue
			}
			sum := sha256.Sum256(data)
			hash := hex.EncodeToString(sum[:])
			if seen[path] == hash {
				continue
			}
			seen[path] = hash

			var defs map[string]config.TaskConfig
			if err := yaml.Unmarshal(data, &defs); err != nil {
				s.logger.Warn("hot-reload could not parse task file", "path", path, "error", err)
				continue
			}
			for name, cfg := range defs {
				// A task registered via hot-reload has no Body yet if it was
				// never registered by a builtin task constructor; skip those
				// silently rather than registering a nil-body task that would
				// panic on execute. Builtin tasks re-register their own body
				// through Register directly and are simply overwritten here
				// with updated policy fields by re-registering with the
				// existing body.
				s.mu.RLock()
				existing, ok := s.tasks[name]
				s.mu.RUnlock()
				if !ok {
					s.logger.Debug("hot-reload found definition for unregistered task, ignoring", "task", name)
					continue
				}
				body := existing.body
				if err := s.Register(name, cfg, body); err != nil {
					s.logger.Warn("hot-reload failed to re-register task", "task", name, "error", err)
					continue
				}
				s.logger.Info("hot-reload re-registered task", "task", name, "path", path)
			}
		}
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan()
		}
	}
}
