package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is a notification severity, matching the categories the Scheduler's
// health-notification reaction filters on.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelInfo     Level = "info"
)

// CategoryHealth marks dependency-health notifications (gateway or LLM
// provider unreachable); the Scheduler subscribes to this category.
const CategoryHealth = "health"

// Notification is a single system event: a task auto-disabled after
// exhausting retries, the global circuit breaker tripping, a sentinel block,
// or an advisory health event from a dependency.
type Notification struct {
	Category string // e.g. "scheduler", "circuit_breaker", "sentinel", "llm_provider"
	Level    Level
	Title    string
	Detail   string
	At       time.Time
}

// Sink delivers notifications to an external channel. Exactly one concrete
// implementation (Slack) is built here; broader channel
// fan-out" bounds the rest — see internal/notify.Multi for composing more
// than one at the call site without growing this interface.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// Hub is the in-process notification bus: it fans a Notify call out to a
// configured Sink and to any Subscribe hooks. The Scheduler registers a
// health-notification hook here during NewScheduler; the
// hub itself has no opinion on what a subscriber does with a notification.
type Hub struct {
	sink Sink

	mu   sync.RWMutex
	subs []subscription
}

type subscription struct {
	category string // "" matches all categories
	minLevel Level
	fn       func(Notification)
}

// NewHub creates a notification hub backed by sink. A nil sink means
// notifications are only delivered to in-process subscribers, never
// externally — used when Slack is disabled (SystemConfig.Slack.Enabled=false).
func NewHub(sink Sink) *Hub {
	return &Hub{sink: sink}
}

// Subscribe registers fn to be called synchronously, in Notify's goroutine,
// whenever a notification in category (or any category, if "") at minLevel
// `_subscribe_to_notifications` log-only reaction pattern:
// subscribers here are expected to log, not act, since auto-pausing on a
// health notification is explicitly not implemented.
func (h *Hub) Subscribe(category string, minLevel Level, fn func(Notification)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, subscription{category: category, minLevel: minLevel, fn: fn})
}

// Publish delivers n to the configured Sink (if any) and to every matching
// subscriber. Sink delivery is fail-open: a Slack error is logged, never
// propagated.
func (h *Hub) Publish(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}

	if h.sink != nil {
		h.sink.Notify(ctx, n)
	}

	h.mu.RLock()
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.category != "" && sub.category != n.Category {
			continue
		}
		if !levelAtLeast(n.Level, sub.minLevel) {
			continue
		}
		sub.fn(n)
	}
}

func levelAtLeast(level, min Level) bool {
	rank := func(l Level) int {
		switch l {
		case LevelCritical:
			return 2
		case LevelHigh:
			return 1
		default:
			return 0
		}
	}
	return rank(level) >= rank(min)
}

// SlackSink delivers notifications to a single Slack channel via
// chat.postMessage. Nil-safe: a zero-value *SlackSink is never constructed by
// NewSlackSink when the token/channel are empty — callers get a nil Sink
// instead.
type SlackSink struct {
	client *client
	logger *slog.Logger
}

// NewSlackSink creates a Slack-backed Sink. Returns nil if token or channel
// is empty, so callers can pass the result straight to NewHub without a
// separate enabled check.
func NewSlackSink(token, channel string) Sink {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackSink{
		client: newClient(token, channel),
		logger: slog.Default().With("component", "notify-slack-sink"),
	}
}

// NewSlackSinkWithAPIURL is like NewSlackSink but targets a custom API URL,
// used by integration tests against a mock Slack server.
func NewSlackSinkWithAPIURL(token, channel, apiURL string) Sink {
	return &SlackSink{
		client: newClientWithAPIURL(token, channel, apiURL),
		logger: slog.Default().With("component", "notify-slack-sink"),
	}
}

// Notify posts n to the configured Slack channel. Fail-open: errors are
// logged, never returned — a notification delivery failure must never break
// the caller's own control flow (scheduler loop, circuit breaker trip, etc).
func (s *SlackSink) Notify(ctx context.Context, n Notification) {
	blocks := buildMessage(n)
	if err := s.client.postMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("failed to send notification", "category", n.Category, "level", n.Level, "error", err)
	}
}
