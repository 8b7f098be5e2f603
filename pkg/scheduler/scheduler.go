// Package scheduler is the Background Task Scheduler: a priority-aware
// registry of periodic/scheduled/one-shot/monitor tasks, each
// driven by its own goroutine run loop, gated by dependency/idle/tempo/
// time-of-day checks and guarded by a global circuit breaker. Each task gets
// its own goroutine with a stopCh and sync.WaitGroup cooperative shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/notify"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
)

// ErrNotFound is returned by operations addressing an unregistered task name.
var ErrNotFound = errors.New("task not found")

// ErrAlreadyRunning is returned by Trigger when the named task's body is
// currently executing.
var ErrAlreadyRunning = errors.New("task already running")

// IdleChecker reports whether the system is currently idle for the purposes
// of a task's RequiresIdle gate, independent of the tempo gauge. The tempo gauge's own idle tracking is a natural backing for
// this — see NewScheduler's default.
type IdleChecker func() bool

// Scheduler drives every registered task's run loop. One Scheduler exists
// per process, built in cmd/orchestrator/main.go and handed to the Service
// Registry.
type Scheduler struct {
	logger  *slog.Logger
	circuit *circuit.Registry
	notify  *notify.Service
	tempo   *tempo.Gauge
	idle    IdleChecker
	loc     *time.Location

	mu      sync.RWMutex
	tasks   map[string]*taskState
	started bool

	wg sync.WaitGroup
}

// New builds a Scheduler. loc is the timezone schedule/window expressions
// are interpreted in.
func New(logger *slog.Logger, circuitRegistry *circuit.Registry, notifySvc *notify.Service, tempoGauge *tempo.Gauge, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		logger:  logger,
		circuit: circuitRegistry,
		notify:  notifySvc,
		tempo:   tempoGauge,
		loc:     loc,
		tasks:   make(map[string]*taskState),
	}
	s.idle = func() bool { return tempoGauge.AtLeast(config.TempoReflective) }

	// The scheduler reacts to CRITICAL/HIGH health-category notifications
	// (gateway/LLM-provider down, emitted by the llm_health_probe task) by
	// logging only; auto-pausing is deliberately not implemented.
	notifySvc.Subscribe(notify.CategoryHealth, notify.LevelHigh, func(n notify.Notification) {
		s.logger.Warn("scheduler observed health notification", "category", n.Category, "level", n.Level, "title", n.Title)
	})
	return s
}

// Register adds or replaces a task definition by name (idempotent;
// last-write-wins). If the scheduler is already started and
// the task is enabled, its run loop starts immediately.
func (s *Scheduler) Register(name string, cfg config.TaskConfig, body Body) error {
	if err := ValidateSchedule0(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	if old, exists := s.tasks[name]; exists {
		close(old.stopCh)
		delete(s.tasks, name)
		s.mu.Unlock()
		<-old.doneCh
		s.mu.Lock()
	}
	ts := newTaskState(name, cfg, body)
	s.tasks[name] = ts
	started := s.started
	s.mu.Unlock()

	if started && ts.enabled {
		s.startLoop(ts)
	}
	return nil
}

// ValidateSchedule0 checks that a task's schedule expression (when it has
// one) is well-formed, used by Register to fail fast on a bad config rather
// than silently falling back at run time.
func ValidateSchedule0(cfg config.TaskConfig) error {
	if cfg.Kind == config.TaskKindScheduled || cfg.Kind == config.TaskKindPeriodic || cfg.Kind == config.TaskKindMonitor {
		if cfg.Schedule == "" {
			return fmt.Errorf("task kind %q requires a schedule expression", cfg.Kind)
		}
	}
	return nil
}

// Unregister cancels the task's run loop (cooperative) and removes it.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.tasks, name)
	s.mu.Unlock()

	close(ts.stopCh)
	<-ts.doneCh
	return nil
}

// Enable flips a task's enabled flag, starting its loop if the scheduler is
// already running.
func (s *Scheduler) Enable(name string) error {
	s.mu.RLock()
	ts, ok := s.tasks[name]
	started := s.started
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ts.mu.Lock()
	already := ts.enabled
	ts.enabled = true
	ts.mu.Unlock()

	if started && !already {
		s.startLoop(ts)
	}
	return nil
}

// Disable flips a task's enabled flag off; its loop exits at the next
// suspension point.
func (s *Scheduler) Disable(name string) error {
	s.mu.RLock()
	ts, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ts.mu.Lock()
	ts.enabled = false
	ts.mu.Unlock()
	return nil
}

// Trigger enqueues an immediate execution of the task's body. Fails if the
// task is currently running.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	ts, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ts.mu.Lock()
	running := ts.running
	ts.mu.Unlock()
	if running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	select {
	case ts.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a snapshot of every registered task.
func (s *Scheduler) Status() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, ts := range s.tasks {
		out = append(out, ts.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Upcoming returns enabled tasks whose next_run falls within window,
// sorted by (priority, seconds-until).
func (s *Scheduler) Upcoming(window time.Duration) []Snapshot {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for _, ts := range s.tasks {
		snap := ts.snapshot()
		if !snap.Enabled || snap.NextRun.IsZero() {
			continue
		}
		if until := snap.NextRun.Sub(now); until >= 0 && until <= window {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority.Less(out[j].Priority)
		}
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return out
}

// Start launches every currently-enabled task's run loop and begins the
// hot-reload scanner.
func (s *Scheduler) Start(ctx context.Context, hotReloadDir string) {
	s.mu.Lock()
	s.started = true
	tasks := make([]*taskState, 0, len(s.tasks))
	for _, ts := range s.tasks {
		tasks = append(tasks, ts)
	}
	s.mu.Unlock()

	for _, ts := range tasks {
		ts.mu.Lock()
		enabled := ts.enabled
		ts.mu.Unlock()
		if enabled {
			s.startLoop(ts)
		}
	}

	if hotReloadDir != "" {
		s.wg.Add(1)
		go s.hotReloadLoop(ctx, hotReloadDir)
	}
}

// Stop cancels every task's run loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	tasks := make([]*taskState, 0, len(s.tasks))
	for _, ts := range s.tasks {
		tasks = append(tasks, ts)
	}
	s.mu.Unlock()

	for _, ts := range tasks {
		select {
		case <-ts.stopCh:
		default:
			close(ts.stopCh)
		}
	}
	for _, ts := range tasks {
		<-ts.doneCh
	}
	s.wg.Wait()
}

func (s *Scheduler) startLoop(ts *taskState) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ts.doneCh)
		switch ts.cfg.Kind {
		case config.TaskKindOneShot:
			s.runOneShot(ts)
		default:
			s.runRecurring(ts)
		}
	}()
}
