package scheduler

import (
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// Body is the executable a task runs. Context cancellation is the
// cooperative-cancellation signal.
type Body func(ctxDone <-chan struct{}) error

// taskState is the scheduler's runtime record for one registered task,
// holding its runtime metrics plus the bookkeeping needed to
// drive its run loop.
type taskState struct {
	name string
	body Body

	mu      sync.Mutex
	cfg     config.TaskConfig
	enabled bool
	running bool

	lastRun             time.Time
	nextRun             time.Time
	retryAt             time.Time // non-zero when a failed attempt scheduled an early retry
	runCount            int64
	errorCount          int64
	lastError           string
	lastDuration        time.Duration
	consecutiveFailures int

	stopCh    chan struct{} // closed to cancel the run loop
	doneCh    chan struct{} // closed when the run loop goroutine exits
	triggerCh chan struct{} // signaled by Trigger() to force an immediate run
}

func newTaskState(name string, cfg config.TaskConfig, body Body) *taskState {
	return &taskState{
		name:      name,
		cfg:       cfg,
		body:      body,
		enabled:   cfg.IsEnabled(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Snapshot is the read-only status view returned by Scheduler.Status.
type Snapshot struct {
	Name                string
	Kind                config.TaskKind
	Priority            config.TaskPriority
	Enabled             bool
	Running             bool
	DependsOn           []string
	Schedule            string
	LastRun             time.Time
	NextRun             time.Time
	RunCount            int64
	ErrorCount          int64
	LastError           string
	LastDuration        time.Duration
	ConsecutiveFailures int
}

func (t *taskState) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Name:                t.name,
		Kind:                t.cfg.Kind,
		Priority:            t.cfg.Priority,
		Enabled:             t.enabled,
		Running:             t.running,
		DependsOn:           t.cfg.DependsOn,
		Schedule:            t.cfg.Schedule,
		LastRun:             t.lastRun,
		NextRun:             t.nextRun,
		RunCount:            t.runCount,
		ErrorCount:          t.errorCount,
		LastError:           t.lastError,
		LastDuration:        t.lastDuration,
		ConsecutiveFailures: t.consecutiveFailures,
	}
}

func (t *taskState) retryPolicy() config.RetryPolicy {
	if t.cfg.Retry != nil {
		return *t.cfg.Retry
	}
	d := config.DefaultRetryPolicy()
	return *d
}
