package config

import (
	"fmt"
	"sync"
)

// TaskConfig defines a background task definition (metadata only — see
// pkg/scheduler for the run-loop that drives it).
type TaskConfig struct {
	// Kind determines which run loop drives this task.
	Kind TaskKind `yaml:"kind" validate:"required"`

	// Priority orders this task in the scheduler's ready queue and decides
	// whether it is exempt from the tempo/idle gates (critical and high are).
	Priority TaskPriority `yaml:"priority,omitempty"`

	// Human-readable description.
	Description string `yaml:"description,omitempty"`

	// Schedule is a schedule expression: "HH:MM" for scheduled tasks,
	// "*/N minutes" or "*/N hours" or a bare integer seconds for periodic tasks.
	// Ignored for one_shot and monitor tasks.
	Schedule string `yaml:"schedule,omitempty"`

	// DependsOn names other tasks that must have completed at least once
	// successfully before this task is eligible to run.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// MinTempo gates this task to running only when the tempo gauge is at
	// least this idle (e.g. "reflective" blocks it during FOCUSED/ALERT).
	MinTempo Tempo `yaml:"min_tempo,omitempty"`

	// RequiresIdle additionally gates this task on no recent chat activity,
	// independent of the tempo gauge.
	RequiresIdle bool `yaml:"requires_idle,omitempty"`

	// Window restricts this task to a wall-clock window (e.g. night-shift
	// ingestion deferral). Nil means no window restriction.
	Window *TimeWindow `yaml:"window,omitempty"`

	// Retry overrides the default retry/backoff policy for this task.
	Retry *RetryPolicy `yaml:"retry,omitempty"`

	// Enabled controls whether the task is registered at all. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the task should be registered (nil Enabled means true).
func (t *TaskConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TaskRegistry stores task configurations in memory with thread-safe access.
type TaskRegistry struct {
	tasks map[string]*TaskConfig
	mu    sync.RWMutex
}

// NewTaskRegistry creates a new task registry.
func NewTaskRegistry(tasks map[string]*TaskConfig) *TaskRegistry {
	copied := make(map[string]*TaskConfig, len(tasks))
	for k, v := range tasks {
		copied[k] = v
	}
	return &TaskRegistry{tasks: copied}
}

// Get retrieves a task configuration by name (thread-safe).
func (r *TaskRegistry) Get(name string) (*TaskConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return task, nil
}

// GetAll returns all task configurations (thread-safe, returns a copy).
func (r *TaskRegistry) GetAll() map[string]*TaskConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*TaskConfig, len(r.tasks))
	for k, v := range r.tasks {
		result[k] = v
	}
	return result
}

// Has checks if a task exists in the registry (thread-safe).
func (r *TaskRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tasks[name]
	return exists
}

// Len returns the number of tasks in the registry (thread-safe).
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Replace atomically swaps the registry's contents, used by the config
// hot-reload scanner (~60s poll).
func (r *TaskRegistry) Replace(tasks map[string]*TaskConfig) {
	copied := make(map[string]*TaskConfig, len(tasks))
	for k, v := range tasks {
		copied[k] = v
	}
	r.mu.Lock()
	r.tasks = copied
	r.mu.Unlock()
}
