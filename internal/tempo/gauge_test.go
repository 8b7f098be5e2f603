package tempo

import (
	"testing"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestGauge_IdleEscalation(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cur := start
	g := NewGauge(5*time.Minute, 30*time.Minute)
	g.now = func() time.Time { return cur }
	g.Record()

	assert.Equal(t, config.TempoFocused, g.Current())

	cur = start.Add(6 * time.Minute)
	assert.Equal(t, config.TempoReflective, g.Current())
	assert.True(t, g.AtLeast(config.TempoReflective))
	assert.False(t, g.AtLeast(config.TempoDeep))

	cur = start.Add(31 * time.Minute)
	assert.Equal(t, config.TempoDeep, g.Current())
	assert.True(t, g.AtLeast(config.TempoDeep))
}

func TestGauge_RecordResetsIdleClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cur := start
	g := NewGauge(5*time.Minute, 30*time.Minute)
	g.now = func() time.Time { return cur }
	g.Record()

	cur = start.Add(10 * time.Minute)
	assert.Equal(t, config.TempoReflective, g.Current())

	g.Record()
	assert.Equal(t, config.TempoFocused, g.Current())
}

func TestGauge_ForceOverridesUntilRecord(t *testing.T) {
	g := NewDefaultGauge()
	g.Force(config.TempoDeep)
	assert.Equal(t, config.TempoDeep, g.Current())

	g.Alert()
	assert.Equal(t, config.TempoAlert, g.Current())

	g.Record()
	assert.Equal(t, config.TempoFocused, g.Current())
}
