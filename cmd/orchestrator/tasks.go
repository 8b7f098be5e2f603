package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/notify"
	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/memory"
	"github.com/delgross/ai-orchestrator-sub002/pkg/scheduler"
	"github.com/delgross/ai-orchestrator-sub002/pkg/sentinel"
)

// taskDeps bundles what the built-in task bodies reach.
type taskDeps struct {
	store      *statestore.Store
	mem        *memory.Client
	sent       *sentinel.Sentinel
	classifier *agent.ClassifierClient
	lock       *memory.ConsolidationLock
	notify     *notify.Service
	logger     *slog.Logger
}

// bodyContext adapts the scheduler's done-channel cancellation to a
// context, bounding each body run to a hard deadline on top.
func bodyContext(done <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// registerTaskBodies binds executable bodies to every configured task. Tasks
// with no built-in body (user-defined YAML entries) get an advisory no-op so
// hot-reloaded policy changes still apply without a nil-body panic.
func registerTaskBodies(startCtx context.Context, sched *scheduler.Scheduler, cfg *config.Config, deps taskDeps) {
	bodies := map[string]scheduler.Body{
		"episode_consolidation": func(done <-chan struct{}) error {
			if deps.classifier == nil {
				return errors.New("no classifier provider configured")
			}
			ctx, cancel := bodyContext(done, 5*time.Minute)
			defer cancel()
			n, err := deps.mem.Consolidate(ctx, deps.lock, deps.classifier, "default", 20)
			if err != nil {
				return err
			}
			if n > 0 {
				deps.logger.Info("episodes consolidated", "count", n)
			}
			return nil
		},

		"fact_confidence_audit": func(done <-chan struct{}) error {
			if deps.classifier == nil {
				return errors.New("no classifier provider configured")
			}
			ctx, cancel := bodyContext(done, 10*time.Minute)
			defer cancel()
			facts, err := deps.mem.QueryFacts(ctx, "default", "")
			if err != nil {
				return err
			}
			if len(facts) > 50 {
				facts = facts[:50]
			}
			verdict := func(ctx context.Context, f statestore.Fact) (string, error) {
				return deps.classifier.AuditFact(ctx, f.Entity, f.Relation, f.Target, f.Context)
			}
			n, err := deps.mem.AuditFacts(ctx, facts, verdict, deps.logger)
			if err != nil {
				return err
			}
			deps.logger.Info("facts audited", "count", n)
			return nil
		},

		"llm_health_probe": func(done <-chan struct{}) error {
			ctx, cancel := bodyContext(done, 15*time.Second)
			defer cancel()
			probeLLMHealth(ctx, cfg, deps.notify, deps.logger)
			return nil // an unreachable provider raises a notification, never a retry storm
		},

		"sentinel_rule_reload": func(done <-chan struct{}) error {
			ctx, cancel := bodyContext(done, 30*time.Second)
			defer cancel()
			return deps.sent.ReloadRules(ctx)
		},

		"mcp_hot_reload_scan": func(done <-chan struct{}) error {
			ctx, cancel := bodyContext(done, time.Minute)
			defer cancel()
			if err := config.Reload(cfg); err != nil {
				return err
			}
			return applyTaskDefOverrides(ctx, sched, deps.store, deps.logger)
		},

		"retention_cleanup": func(done <-chan struct{}) error {
			ctx, cancel := bodyContext(done, 5*time.Minute)
			defer cancel()
			retention := cfg.System.Retention
			episodes, err := deps.store.DeleteConsolidatedEpisodesBefore(ctx,
				time.Now().AddDate(0, 0, -retention.EpisodeRetentionDays))
			if err != nil {
				return err
			}
			tools, err := deps.store.PruneStaleToolPerformance(ctx, time.Now().Add(-retention.ToolCallTTL))
			if err != nil {
				return err
			}
			deps.logger.Info("retention cleanup done", "episodes", episodes, "tool_rows", tools)
			return nil
		},
	}

	for name, taskCfg := range cfg.TaskRegistry.GetAll() {
		body, ok := bodies[name]
		if !ok {
			taskName := name
			body = func(<-chan struct{}) error {
				deps.logger.Warn("task has no executable body bound", "task", taskName)
				return nil
			}
		}
		if err := sched.Register(name, *taskCfg, body); err != nil {
			deps.logger.Error("could not register task", "task", name, "error", err)
		}
	}

	// Apply database-side enable/disable overrides once at startup; the
	// hot-reload task repeats this on its cadence.
	if err := applyTaskDefOverrides(startCtx, sched, deps.store, deps.logger); err != nil {
		deps.logger.Warn("could not apply task_def overrides", "error", err)
	}
}

// probeLLMHealth checks that the configured gateway/router base URL answers
// at all, publishing a health-category notification when it doesn't — the
// event the Scheduler's health subscription listens for.
func probeLLMHealth(ctx context.Context, cfg *config.Config, notifySvc *notify.Service, logger *slog.Logger) {
	base := cfg.System.GatewayBase
	if base == "" {
		base = cfg.System.RouterBase
	}
	if base == "" {
		return // no provider configured: nothing to probe
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/models", nil)
	if err != nil {
		return
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		logger.Warn("llm provider unreachable", "base", base, "error", err)
		notifySvc.High(ctx, notify.CategoryHealth, "LLM provider unreachable", err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		notifySvc.High(ctx, notify.CategoryHealth, "LLM provider degraded",
			fmt.Sprintf("%s returned status %d", base, resp.StatusCode))
	}
}

// applyTaskDefOverrides flips registered tasks' enabled flags to match their
// task_def rows.
func applyTaskDefOverrides(ctx context.Context, sched *scheduler.Scheduler, store *statestore.Store, logger *slog.Logger) error {
	rows, err := store.AllTaskDefs(ctx)
	if err != nil {
		return fmt.Errorf("read task_def: %w", err)
	}
	registered := make(map[string]scheduler.Snapshot)
	for _, snap := range sched.Status() {
		registered[snap.Name] = snap
	}
	for _, row := range rows {
		snap, ok := registered[row.Name]
		if !ok || snap.Enabled == row.Enabled {
			continue
		}
		var applyErr error
		if row.Enabled {
			applyErr = sched.Enable(row.Name)
		} else {
			applyErr = sched.Disable(row.Name)
		}
		if applyErr != nil {
			logger.Warn("could not apply task_def override", "task", row.Name, "error", applyErr)
			continue
		}
		logger.Info("applied task_def override", "task", row.Name, "enabled", row.Enabled)
	}
	return nil
}
