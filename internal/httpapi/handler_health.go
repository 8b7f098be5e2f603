package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	OK       bool   `json:"ok"`
	Internet bool   `json:"internet"`
	UptimeS  int64  `json:"uptime_s"`
}

// healthHandler implements GET /health. Only the orchestrator's own state
// store is probed; external collaborators degrade the status string without
// failing the endpoint.
func (s *Server) healthHandler(c *echo.Context) error {
	probeCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	ok := true
	if s.store != nil {
		if err := s.store.Ping(probeCtx); err != nil {
			status = "degraded: state store unreachable"
			ok = false
		}
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		OK:       ok,
		Internet: s.internet.online(),
		UptimeS:  int64(time.Since(s.startedAt).Seconds()),
	})
}

// internetProbe caches a cheap connectivity check so /health never blocks
// on an external dial per request.
type internetProbe struct {
	mu      sync.Mutex
	up      bool
	checked time.Time
}

func newInternetProbe() *internetProbe {
	return &internetProbe{}
}

const internetProbeTTL = 60 * time.Second

func (p *internetProbe) online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.checked) < internetProbeTTL {
		return p.up
	}
	conn, err := net.DialTimeout("tcp", "1.1.1.1:443", 2*time.Second)
	if err == nil {
		conn.Close()
	}
	p.up = err == nil
	p.checked = time.Now()
	return p.up
}
