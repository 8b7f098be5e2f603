package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delgross/ai-orchestrator-sub002/internal/notify"
)

type captureSink struct {
	mu   sync.Mutex
	seen []notify.Notification
}

func (c *captureSink) Notify(_ context.Context, n notify.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, n)
}

func failN(t *testing.T, r *Registry, name string, core bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _ = Execute(r, name, core, func() (any, error) {
			return nil, errors.New("boom")
		})
	}
}

func TestNonCoreBreaker_TripsAtFiveConsecutiveFailures(t *testing.T) {
	r := NewRegistry(nil)

	failN(t, r, "weather", false, 4)
	assert.Equal(t, gobreaker.StateClosed, r.State("weather"))

	failN(t, r, "weather", false, 1)
	assert.Equal(t, gobreaker.StateOpen, r.State("weather"))

	_, err := Execute(r, "weather", false, func() (any, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCoreBreaker_HigherThreshold(t *testing.T) {
	r := NewRegistry(nil)

	failN(t, r, "filesystem", true, 9)
	assert.Equal(t, gobreaker.StateClosed, r.State("filesystem"))

	failN(t, r, "filesystem", true, 1)
	assert.Equal(t, gobreaker.StateOpen, r.State("filesystem"))
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	r := NewRegistry(nil)

	failN(t, r, "dep", false, 4)
	_, err := Execute(r, "dep", false, func() (any, error) { return "ok", nil })
	require.NoError(t, err)

	failN(t, r, "dep", false, 4)
	assert.Equal(t, gobreaker.StateClosed, r.State("dep"))
}

func TestGlobalBreaker_TripsPastTenFailures(t *testing.T) {
	sink := &captureSink{}
	r := NewRegistry(notify.NewServiceWithHub(notify.NewHub(sink)))

	b := r.GetGlobal()
	for i := 0; i < GlobalThreshold+1; i++ {
		_, _ = b.Execute(func() (interface{}, error) { return nil, errors.New("task failed") })
	}
	assert.Equal(t, gobreaker.StateOpen, r.State(GlobalName))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.seen)
	assert.Equal(t, notify.LevelCritical, sink.seen[0].Level)
	assert.Equal(t, "circuit_breaker", sink.seen[0].Category)
}

func TestState_UnknownNameIsClosed(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, gobreaker.StateClosed, r.State("never-seen"))
}
