package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

func TestParseSchedule_DailyTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 59, 30, 0, time.UTC)
	d := ParseSchedule("00:00", now)
	assert.InDelta(t, 30*time.Second, d, float64(2*time.Second))
}

func TestParseSchedule_Interval(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 15*time.Minute, ParseSchedule("*/15 minutes", now))
	assert.Equal(t, 2*time.Hour, ParseSchedule("*/2 hours", now))
	assert.Equal(t, 45*time.Second, ParseSchedule("45", now))
}

func TestParseSchedule_ZeroIntervalFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	d := ParseSchedule("*/0 minutes", now)
	assert.Equal(t, fallbackInterval, d)
}

func TestParseSchedule_InvalidFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	d := ParseSchedule("not-a-schedule", now)
	assert.Equal(t, fallbackInterval, d)
}

func TestJitterFactor_Deterministic(t *testing.T) {
	a := jitterFactor("t", 3)
	b := jitterFactor("t", 3)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.8)
	assert.Less(t, a, 1.2)
}

func TestRetryDelay_WithinBounds(t *testing.T) {
	base := 10 * time.Second
	d := retryDelay("my-task", 2, base)
	assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
	assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2))

	// Same (name, k) always yields the same delay.
	d2 := retryDelay("my-task", 2, base)
	assert.Equal(t, d, d2)
}

func TestInWindow_Wraparound(t *testing.T) {
	w := config.TimeWindow{Start: "23:00", End: "06:00"}
	assert.True(t, inWindow(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC), w))
	assert.True(t, inWindow(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC), w))
	assert.False(t, inWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), w))
}
