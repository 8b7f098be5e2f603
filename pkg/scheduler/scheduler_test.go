package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/notify"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
)

func newTestScheduler() *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
	notifySvc := notify.NewServiceWithHub(notify.NewHub(nil))
	return New(logger, circuit.NewRegistry(notifySvc), notifySvc, tempo.NewDefaultGauge(), time.UTC)
}

func TestRegister_LastWriteWins(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register("t1", config.TaskConfig{Kind: config.TaskKindPeriodic, Schedule: "1"}, func(<-chan struct{}) error { return nil }))
	require.NoError(t, s.Register("t1", config.TaskConfig{Kind: config.TaskKindPeriodic, Schedule: "2"}, func(<-chan struct{}) error { return nil }))

	snaps := s.Status()
	require.Len(t, snaps, 1)
	assert.Equal(t, "2", snaps[0].Schedule)
}

func TestTrigger_FailsWhileRunning(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register("slow", config.TaskConfig{Kind: config.TaskKindOneShot, Schedule: "3600"}, func(<-chan struct{}) error {
		close(started)
		<-release
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, "")
	defer s.Stop()

	require.NoError(t, s.Trigger("slow"))
	<-started

	err := s.Trigger("slow")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	close(release)
}

func TestRetry_DisablesAfterMaxAttempts(t *testing.T) {
	s := newTestScheduler()
	var calls int64
	cfg := config.TaskConfig{
		Kind:     config.TaskKindOneShot,
		Schedule: "0",
		Priority: config.TaskPriorityMedium,
		Retry:    &config.RetryPolicy{MaxAttempts: 1, BaseDelaySec: 1, MaxDelaySec: 1},
	}
	require.NoError(t, s.Register("failer", cfg, func(<-chan struct{}) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, "")
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snaps := s.Status()
		if len(snaps) == 1 && !snaps[0].Enabled {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snaps := s.Status()
	require.Len(t, snaps, 1)
	assert.False(t, snaps[0].Enabled)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestRetry_RunsAtJitteredDelayNotFullInterval(t *testing.T) {
	s := newTestScheduler()

	var mu sync.Mutex
	var calls []time.Time
	cfg := config.TaskConfig{
		Kind:     config.TaskKindPeriodic,
		Schedule: "60", // normal cadence: 60s — retries must not wait this long
		Priority: config.TaskPriorityMedium,
		Retry:    &config.RetryPolicy{MaxAttempts: 2, BaseDelaySec: 1},
	}
	require.NoError(t, s.Register("flaky", cfg, func(<-chan struct{}) error {
		mu.Lock()
		calls = append(calls, time.Now())
		n := len(calls)
		mu.Unlock()
		if n < 3 {
			return errors.New("boom")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, "")
	defer s.Stop()

	require.NoError(t, s.Trigger("flaky"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3, "two failures then a success must all run well inside the 60s interval")
	for i := 1; i < 3; i++ {
		gap := calls[i].Sub(calls[i-1])
		assert.GreaterOrEqual(t, gap, 700*time.Millisecond, "gap %d", i)
		assert.LessOrEqual(t, gap, 2*time.Second, "gap %d", i)
	}

	snaps := s.Status()
	require.Len(t, snaps, 1)
	assert.Zero(t, snaps[0].ConsecutiveFailures)
	assert.True(t, snaps[0].Enabled)
}

func TestMinTempoGate_SkipsWithoutCounterIncrement(t *testing.T) {
	s := newTestScheduler()
	s.tempo.Force(config.TempoFocused)

	var calls int64
	cfg := config.TaskConfig{
		Kind:     config.TaskKindOneShot,
		Schedule: "0",
		MinTempo: config.TempoDeep,
	}
	require.NoError(t, s.Register("gated", cfg, func(<-chan struct{}) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, "")
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}
