package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// runOneShot sleeps for the task's schedule-as-delay, runs the body once,
// then disables the task.
func (s *Scheduler) runOneShot(ts *taskState) {
	delay := ParseSchedule(ts.cfg.Schedule, time.Now().In(s.loc))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ts.stopCh:
		return
	case <-ts.triggerCh:
	case <-timer.C:
	}

	if skip, reason := s.checkGates(ts); skip {
		s.logger.Debug("one-shot task skipped by gate", "task", ts.name, "reason", reason)
	} else {
		s.execute(ts)
	}

	ts.mu.Lock()
	ts.enabled = false
	ts.mu.Unlock()
}

// runRecurring drives periodic/scheduled/monitor tasks: compute the delay
// until next fire via the schedule parser, wait for it (or an explicit
// Trigger, or cancellation), check gates, execute, repeat. Periodic and
// periodic and monitor as identical; scheduled uses the same parser, so one
// loop covers all three kinds.
func (s *Scheduler) runRecurring(ts *taskState) {
	for {
		now := time.Now().In(s.loc)
		delay := ParseSchedule(ts.cfg.Schedule, now)

		ts.mu.Lock()
		// A failed attempt schedules a jittered retry sooner than the normal
		// cadence; consume it instead of sleeping the full interval.
		if !ts.retryAt.IsZero() {
			if until := ts.retryAt.Sub(now); until < delay {
				delay = max(until, 0)
			}
			ts.retryAt = time.Time{}
		}
		ts.nextRun = now.Add(delay)
		ts.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ts.stopCh:
			timer.Stop()
			return
		case <-ts.triggerCh:
			timer.Stop()
		case <-timer.C:
		}

		ts.mu.Lock()
		enabled := ts.enabled
		ts.mu.Unlock()
		if !enabled {
			return
		}

		if skip, reason := s.checkGates(ts); skip {
			s.logger.Debug("task skipped by gate", "task", ts.name, "reason", reason)
			continue
		}

		s.execute(ts)

		ts.mu.Lock()
		stillEnabled := ts.enabled
		ts.mu.Unlock()
		if !stillEnabled {
			return
		}
	}
}

// checkGates runs the gating sequence (global breaker, dependency
// advisory, idle, tempo, time-of-day) and reports whether ts should be
// skipped this opportunity.
func (s *Scheduler) checkGates(ts *taskState) (bool, string) {
	if s.circuit.State(circuit.GlobalName) == gobreaker.StateOpen {
		return true, "global circuit breaker open"
	}

	ts.mu.Lock()
	cfg := ts.cfg
	ts.mu.Unlock()

	for _, dep := range cfg.DependsOn {
		s.mu.RLock()
		depTask, ok := s.tasks[dep]
		s.mu.RUnlock()
		if ok {
			snap := depTask.snapshot()
			if snap.ErrorCount > 0 {
				s.logger.Warn("task dependency has errors (advisory only)", "task", ts.name, "depends_on", dep, "dependency_errors", snap.ErrorCount)
			}
		}
	}

	requiresIdle := cfg.RequiresIdle || cfg.Priority == config.TaskPriorityBackground
	if requiresIdle && !s.idle() {
		return true, "idle gate"
	}

	if cfg.MinTempo != "" {
		if !s.tempo.AtLeast(cfg.MinTempo) {
			return true, "tempo gate"
		}
	}

	if cfg.Window != nil {
		if !inWindow(time.Now().In(s.loc), *cfg.Window) {
			return true, "time-of-day window gate"
		}
	}

	return false, ""
}

// inWindow reports whether now's wall-clock time falls within [w.Start,
// w.End), with End < Start interpreted as wrapping past midnight (e.g. the
// night-shift window 23:00-06:00).
func inWindow(now time.Time, w config.TimeWindow) bool {
	start, errS := parseHHMM(w.Start)
	end, errE := parseHHMM(w.End)
	if errS != nil || errE != nil {
		return true // malformed window never blocks execution
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseHHMM(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, err
	}
	return hh*60 + mm, nil
}

// execute runs ts.body through the global circuit breaker (driving the
// global failure-ring-buffer semantics via gobreaker's counters, see
// internal/circuit) and applies the retry/auto-disable logic on failure.
func (s *Scheduler) execute(ts *taskState) {
	ts.mu.Lock()
	ts.running = true
	ts.mu.Unlock()

	start := time.Now()
	breaker := s.circuit.GetGlobal()
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, ts.body(ts.stopCh)
	})
	if err != nil && err == gobreaker.ErrOpenState {
		err = fmt.Errorf("%w: global", circuit.ErrOpen)
	}
	duration := time.Since(start)

	ts.mu.Lock()
	ts.running = false
	ts.runCount++
	ts.lastRun = start
	ts.lastDuration = duration
	ts.mu.Unlock()

	if err != nil {
		s.onFailure(ts, err)
		return
	}
	s.onSuccess(ts)
}

func (s *Scheduler) onSuccess(ts *taskState) {
	ts.mu.Lock()
	ts.consecutiveFailures = 0
	ts.lastError = ""
	ts.mu.Unlock()
}

func (s *Scheduler) onFailure(ts *taskState, taskErr error) {
	ts.mu.Lock()
	ts.errorCount++
	ts.consecutiveFailures++
	ts.lastError = taskErr.Error()
	cf := ts.consecutiveFailures
	priority := ts.cfg.Priority
	policy := ts.retryPolicy()
	enabled := ts.enabled
	name := ts.name
	ts.mu.Unlock()

	s.logger.Error("task body failed", "task", name, "error", taskErr, "consecutive_failures", cf)

	if priority == config.TaskPriorityCritical {
		s.notify.Critical(context.Background(), "scheduler",
			fmt.Sprintf("critical task %s failed", name), taskErr.Error())
		return
	}

	if cf <= policy.MaxAttempts && enabled && priority != config.TaskPriorityBackground {
		delay := retryDelay(name, cf, time.Duration(policy.BaseDelaySec)*time.Second)
		retryAt := time.Now().Add(delay)
		ts.mu.Lock()
		ts.retryAt = retryAt
		ts.nextRun = retryAt
		ts.mu.Unlock()
		return
	}

	if cf > policy.MaxAttempts {
		ts.mu.Lock()
		ts.enabled = false
		ts.mu.Unlock()
		s.notify.High(context.Background(), "scheduler",
			fmt.Sprintf("task %s disabled after %d consecutive failures", name, cf), taskErr.Error())
	}
}
