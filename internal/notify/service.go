package notify

import (
	"context"
	"os"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// Service is the exported façade other packages depend on: a configured
// Hub plus convenience constructors from config.
type Service struct {
	hub *Hub
}

// NewService builds a Service from SystemConfig.Slack. When Slack is
// disabled or unconfigured, the returned Service still accepts Subscribe
// registrations and Publish calls — notifications simply never leave the
// process. The Hub stays useful even with no external sink.
func NewService(sys *config.SystemConfig) *Service {
	var sink Sink
	if sys != nil && sys.Slack != nil && sys.Slack.Enabled {
		sink = NewSlackSink(os.Getenv(sys.Slack.TokenEnv), sys.Slack.Channel)
	}
	return &Service{hub: NewHub(sink)}
}

// NewServiceWithHub wraps an already-constructed Hub, used by tests that
// need to inject a fake Sink.
func NewServiceWithHub(hub *Hub) *Service {
	return &Service{hub: hub}
}

// Subscribe registers an in-process reaction to notifications, see
// Hub.Subscribe.
func (s *Service) Subscribe(category string, minLevel Level, fn func(Notification)) {
	s.hub.Subscribe(category, minLevel, fn)
}

// Notify publishes a notification both to the external sink (if configured)
// and to in-process subscribers.
func (s *Service) Notify(ctx context.Context, n Notification) {
	s.hub.Publish(ctx, n)
}

// Critical is a convenience wrapper for the common case of a critical,
// detail-bearing notification (global circuit breaker trip, repeated task
// failure leading to auto-disable).
func (s *Service) Critical(ctx context.Context, category, title, detail string) {
	s.Notify(ctx, Notification{Category: category, Level: LevelCritical, Title: title, Detail: detail})
}

// High is the convenience wrapper for high-severity, non-critical events
// (a single MCP server circuit opening, a sentinel block).
func (s *Service) High(ctx context.Context, category, title, detail string) {
	s.Notify(ctx, Notification{Category: category, Level: LevelHigh, Title: title, Detail: detail})
}
