package httpapi

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// SystemStatusResponse is the GET /admin/system-status subsystem rollup.
type SystemStatusResponse struct {
	UptimeS        int64             `json:"uptime_s"`
	Tasks          []TaskStatus      `json:"tasks"`
	MCPServers     MCPStatus         `json:"mcp_servers"`
	Breakers       map[string]string `json:"breakers"`
	IngestionPause *PauseStatus      `json:"ingestion_paused,omitempty"`
	Layers         any               `json:"layers"`
	Connections    int               `json:"ws_connections"`
}

// TaskStatus is one scheduler task's rollup row.
type TaskStatus struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	RunCount int64  `json:"run_count"`
	Errors   int64  `json:"error_count"`
	LastErr  string `json:"last_error,omitempty"`
}

// MCPStatus summarizes MCP transport health.
type MCPStatus struct {
	Failed map[string]string `json:"failed,omitempty"`
}

// PauseStatus carries the ingestion .paused sentinel's reason.
type PauseStatus struct {
	Reason string `json:"reason"`
}

// systemStatusHandler implements GET /admin/system-status.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	resp := SystemStatusResponse{
		UptimeS:  int64(time.Since(s.startedAt).Seconds()),
		Breakers: map[string]string{},
	}

	if s.sched != nil {
		for _, snap := range s.sched.Status() {
			resp.Tasks = append(resp.Tasks, TaskStatus{
				Name:     snap.Name,
				Kind:     string(snap.Kind),
				Priority: string(snap.Priority),
				Enabled:  snap.Enabled,
				Running:  snap.Running,
				RunCount: snap.RunCount,
				Errors:   snap.ErrorCount,
				LastErr:  snap.LastError,
			})
		}
	}
	if s.mcpManager != nil {
		resp.MCPServers = MCPStatus{Failed: s.mcpManager.FailedServers()}
		if s.breakers != nil {
			for name := range s.cfg.MCPServerRegistry.GetAll() {
				resp.Breakers[name] = s.breakers.State(name).String()
			}
		}
	}
	if s.breakers != nil {
		resp.Breakers["global"] = s.breakers.State("global").String()
	}
	if s.pipeline != nil {
		if paused, reason := s.pipeline.Paused(); paused {
			resp.IngestionPause = &PauseStatus{Reason: reason}
		}
	}
	if s.regulator != nil {
		resp.Layers = s.regulator.Layers().Snapshot()
	}
	if s.connManager != nil {
		resp.Connections = s.connManager.ActiveConnections()
	}
	return c.JSON(http.StatusOK, resp)
}

// wsHandler upgrades /admin/ws to WebSocket and delegates to the
// ConnectionManager.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.System.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.System.AllowedWSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}
