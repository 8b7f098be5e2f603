// Package httpapi provides the HTTP surface of the orchestrator:
// the OpenAI-compatible chat-completions endpoint, health, the admin
// rollup, and the WebSocket event feed.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/delgross/ai-orchestrator-sub002/internal/budget"
	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
	"github.com/delgross/ai-orchestrator-sub002/pkg/ingestion"
	"github.com/delgross/ai-orchestrator-sub002/pkg/mcptransport"
	"github.com/delgross/ai-orchestrator-sub002/pkg/nexus"
	"github.com/delgross/ai-orchestrator-sub002/pkg/scheduler"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger

	cfg       *config.Config
	store     *statestore.Store
	regulator *nexus.Regulator
	budget    *budget.Tracker

	// Optional collaborators, attached via Set* after construction; nil
	// until set, handlers degrade gracefully.
	sched       *scheduler.Scheduler
	mcpManager  *mcptransport.Manager
	breakers    *circuit.Registry
	pipeline    *ingestion.Pipeline
	connManager *events.ConnectionManager
	publisher   *events.EventPublisher

	adminPassword string
	startedAt     time.Time

	internet *internetProbe
}

// NewServer builds the API server and registers its routes.
func NewServer(cfg *config.Config, store *statestore.Store, regulator *nexus.Regulator, tracker *budget.Tracker, logger *slog.Logger) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		logger:    logger,
		cfg:       cfg,
		store:     store,
		regulator: regulator,
		budget:    tracker,
		startedAt: time.Now(),
		internet:  newInternetProbe(),
	}
	s.setupRoutes()
	return s
}

// SetScheduler attaches the scheduler for the admin rollup.
func (s *Server) SetScheduler(sched *scheduler.Scheduler) { s.sched = sched }

// SetMCPManager attaches the MCP transport manager for the admin rollup.
func (s *Server) SetMCPManager(m *mcptransport.Manager) { s.mcpManager = m }

// SetCircuitRegistry attaches the breaker registry for the admin rollup.
func (s *Server) SetCircuitRegistry(r *circuit.Registry) { s.breakers = r }

// SetIngestionPipeline attaches the ingestion pipeline for the admin rollup.
func (s *Server) SetIngestionPipeline(p *ingestion.Pipeline) { s.pipeline = p }

// SetConnectionManager attaches the WebSocket fan-out for /admin/ws.
func (s *Server) SetConnectionManager(m *events.ConnectionManager) { s.connManager = m }

// SetEventPublisher attaches the NOTIFY-backed publisher; when set, every
// chat stream event is mirrored onto the request's WebSocket channel.
func (s *Server) SetEventPublisher(p *events.EventPublisher) { s.publisher = p }

// SetAdminPassword guards the /admin group; "" leaves it open.
func (s *Server) SetAdminPassword(pw string) { s.adminPassword = pw }

// Echo exposes the underlying router so the MCP SSE server can register its
// endpoints on the same listener.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.POST("/v1/chat/completions", s.chatCompletionsHandler)

	admin := s.echo.Group("/admin")
	admin.Use(s.adminAuth())
	admin.GET("/system-status", s.systemStatusHandler)
	admin.GET("/ws", s.wsHandler)
}

// Start begins serving on addr, blocking until the listener fails or Stop
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http api listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("httpapi: serve: %w", err)
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
