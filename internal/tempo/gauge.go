// Package tempo implements the process-local activity gauge tasks gate on
// via TaskConfig.MinTempo: the concrete shared state the min_tempo gate
// reads from.
package tempo

import (
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// Gauge tracks the most recent chat activity and derives the current Tempo
// from how long it's been idle. FOCUSED and ALERT are set directly by
// callers observing live chat traffic; REFLECTIVE and DEEP are derived from
// elapsed idle time once nothing has touched Record.
type Gauge struct {
	mu           sync.RWMutex
	lastActivity time.Time
	forced       *config.Tempo // non-nil when an admin endpoint or test pins the tempo
	reflectiveAt time.Duration
	deepAt       time.Duration
	now          func() time.Time
}

// DefaultReflectiveIdle is the idle duration after which the gauge reports
// REFLECTIVE once idle for at least 5 minutes.
const DefaultReflectiveIdle = 5 * time.Minute

// DefaultDeepIdle is the idle duration after which the gauge escalates from
// REFLECTIVE to DEEP: long enough past the 5-minute REFLECTIVE threshold to
// mean "nobody is coming back soon".
const DefaultDeepIdle = 30 * time.Minute

// NewGauge creates a Gauge starting in FOCUSED state (as if activity just
// occurred), using reflectiveAt/deepAt as the REFLECTIVE/DEEP idle
// thresholds.
func NewGauge(reflectiveAt, deepAt time.Duration) *Gauge {
	return &Gauge{
		lastActivity: time.Now(),
		reflectiveAt: reflectiveAt,
		deepAt:       deepAt,
		now:          time.Now,
	}
}

// NewDefaultGauge creates a Gauge using DefaultReflectiveIdle/DefaultDeepIdle.
func NewDefaultGauge() *Gauge {
	return NewGauge(DefaultReflectiveIdle, DefaultDeepIdle)
}

// Record marks chat activity as having just occurred, resetting the idle
// clock and clearing any forced override. The gauge reports FOCUSED
// immediately after a Record call.
func (g *Gauge) Record() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastActivity = g.now()
	g.forced = nil
}

// Alert marks the system as actively responding but not mid-conversation
// (e.g. a tool call is in flight, or a trigger just fired). It pins the
// gauge to ALERT until the next Record or Force call; ALERT has no
// idle-duration definition of its own, only FOCUSED/REFLECTIVE/DEEP do.
func (g *Gauge) Alert() {
	g.mu.Lock()
	defer g.mu.Unlock()
	alert := config.TempoAlert
	g.forced = &alert
}

// Force pins the gauge to an explicit tempo, overriding idle-based
// computation until the next Record call. Used by the admin endpoint and by
// tests that need a deterministic tempo without sleeping.
func (g *Gauge) Force(t config.Tempo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	forced := t
	g.forced = &forced
}

// Current returns the gauge's present tempo.
func (g *Gauge) Current() config.Tempo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.forced != nil {
		return *g.forced
	}

	idle := g.now().Sub(g.lastActivity)
	switch {
	case idle >= g.deepAt:
		return config.TempoDeep
	case idle >= g.reflectiveAt:
		return config.TempoReflective
	default:
		return config.TempoFocused
	}
}

// AtLeast reports whether the gauge's current tempo satisfies min, per
// config.Tempo.AtLeast's ordinal comparison.
func (g *Gauge) AtLeast(min config.Tempo) bool {
	return g.Current().AtLeast(min)
}
