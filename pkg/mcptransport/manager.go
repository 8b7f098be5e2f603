package mcptransport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sony/gobreaker"

	"github.com/delgross/ai-orchestrator-sub002/internal/circuit"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/pkg/version"
)

// CoreServerNames are the dependencies treated as core regardless of
// per-server config; an MCP server config may additionally set
// Core:true for any other name.
var CoreServerNames = map[string]bool{
	"system-control": true,
	"time":           true,
	"filesystem":     true,
	"project-memory": true,
}

// Manager supervises one long-lived session per configured MCP server —
// at most one process alive per server name at any instant — shared by the
// Tool Executor and the MCP SSE server.
type Manager struct {
	registry *config.MCPServerRegistry
	circuit  *circuit.Registry
	logger   *slog.Logger

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client
	failedServers map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	spawnMu sync.Map // serverID -> *sync.Mutex, serializes spawn/respawn per server
}

// NewManager builds a Manager. registry supplies server descriptors;
// circuitRegistry backs the per-server breakers.
func NewManager(registry *config.MCPServerRegistry, circuitRegistry *circuit.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		registry:      registry,
		circuit:       circuitRegistry,
		logger:        logger,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
	}
}

func isCore(serverID string, cfg *config.MCPServerConfig) bool {
	return CoreServerNames[serverID] || (cfg != nil && cfg.Core)
}

// EnsureServer spawns and handshakes serverID if it has no live session yet.
// Serialized by a per-server lock.
func (m *Manager) EnsureServer(ctx context.Context, serverID string) error {
	lockCh := make(chan struct{})
	muI, _ := m.spawnMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)

	go func() { mu.Lock(); close(lockCh) }()
	select {
	case <-lockCh:
	case <-time.After(PerServerLockTimeout):
		return fmt.Errorf("mcp server %q: spawn lock timeout", serverID)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer mu.Unlock()

	return m.ensureServerLocked(ctx, serverID)
}

func (m *Manager) ensureServerLocked(ctx context.Context, serverID string) error {
	m.mu.RLock()
	_, exists := m.sessions[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := m.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("mcp server %q not registered: %w", serverID, err)
	}
	if !serverCfg.Transport.Type.IsValid() {
		return fmt.Errorf("mcp server %q: invalid transport", serverID)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("mcp server %q: build transport: %w", serverID, err)
	}

	timeout := HandshakeTimeoutNonCore
	if isCore(serverID, serverCfg) {
		timeout = HandshakeTimeoutCore
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: version.AppName, Version: version.GitCommit}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		m.mu.Lock()
		m.failedServers[serverID] = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("mcp server %q: handshake failed: %w", serverID, err)
	}

	result, err := session.ListTools(initCtx, nil)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("mcp server %q: tools/list failed: %w", serverID, err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}

	m.mu.Lock()
	m.sessions[serverID] = session
	m.clients[serverID] = client
	delete(m.failedServers, serverID)
	m.mu.Unlock()

	m.toolCacheMu.Lock()
	m.toolCache[serverID] = tools
	m.toolCacheMu.Unlock()

	m.logger.Info("mcp server connected", "server", serverID, "tools", len(tools))
	return nil
}

// ListTools returns serverID's cached tool schema, ensuring the server is
// up first.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	if err := m.EnsureServer(ctx, serverID); err != nil {
		return nil, err
	}
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	return m.toolCache[serverID], nil
}

// ListAllTools returns every connected server's cached tools, keyed by
// server name.
func (m *Manager) ListAllTools() map[string][]*mcpsdk.Tool {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	out := make(map[string][]*mcpsdk.Tool, len(m.toolCache))
	for k, v := range m.toolCache {
		out[k] = v
	}
	return out
}

// CallResult is the outcome of a single tool invocation.
type CallResult struct {
	OK        bool
	Result    *mcpsdk.CallToolResult
	Error     string
	LatencyMS int64
}

// CallTool invokes toolName on serverID, consulting and updating the
// server's circuit breaker. On a transport failure it retries once
// after a jittered backoff, recreating the session if the failure was
// connection-level.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (CallResult, error) {
	serverCfg, err := m.registry.Get(serverID)
	if err != nil {
		return CallResult{}, fmt.Errorf("mcp server %q not registered: %w", serverID, err)
	}
	core := isCore(serverID, serverCfg)

	breaker := m.circuit.Get(serverID, core)
	if breaker.State() == gobreaker.StateOpen {
		return CallResult{OK: false, Error: "mcp_unavailable"}, nil
	}

	start := time.Now()
	res, callErr := m.callOnce(ctx, serverID, toolName, args)
	if callErr != nil {
		if ClassifyError(callErr) == RetryNewSession {
			backoff := 250*time.Millisecond + time.Duration(rand.Int64N(int64(500*time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				m.reportBreaker(breaker, false)
				return CallResult{}, ctx.Err()
			}
			if recreateErr := m.recreateSession(ctx, serverID); recreateErr == nil {
				res, callErr = m.callOnce(ctx, serverID, toolName, args)
			}
		}
	}
	latency := time.Since(start)

	if callErr != nil {
		m.reportBreaker(breaker, false)
		return CallResult{OK: false, Error: callErr.Error(), LatencyMS: latency.Milliseconds()}, nil
	}
	m.reportBreaker(breaker, true)
	return CallResult{OK: true, Result: res, LatencyMS: latency.Milliseconds()}, nil
}

func (m *Manager) reportBreaker(b breakerLike, ok bool) {
	_, _ = b.Execute(func() (interface{}, error) {
		if !ok {
			return nil, fmt.Errorf("tool call failed")
		}
		return nil, nil
	})
}

// breakerLike narrows gobreaker.CircuitBreaker to the one method reportBreaker
// needs, so this file doesn't need to import gobreaker directly.
type breakerLike interface {
	Execute(func() (interface{}, error)) (interface{}, error)
}

func (m *Manager) callOnce(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	if err := m.EnsureServer(ctx, serverID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	session, exists := m.sessions[serverID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		m.markDead(serverID)
		return nil, err
	}
	return result, nil
}

// markDead drops a server's session after a transport-level failure so the
// next call respawns it.
func (m *Manager) markDead(serverID string) {
	m.mu.Lock()
	if session, exists := m.sessions[serverID]; exists {
		_ = session.Close()
		delete(m.sessions, serverID)
		delete(m.clients, serverID)
	}
	m.mu.Unlock()
}

func (m *Manager) recreateSession(ctx context.Context, serverID string) error {
	m.markDead(serverID)
	m.toolCacheMu.Lock()
	delete(m.toolCache, serverID)
	m.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return m.EnsureServer(reinitCtx, serverID)
}

// StartRecoveryProbes runs the core-server auto-recovery loop until ctx is
// cancelled. Each tick attempts a handshake through any non-closed core
// breaker; in half-open state a successful probe closes it, while a fully
// open breaker rejects the attempt without touching the child process.
func (m *Manager) StartRecoveryProbes(ctx context.Context) {
	ticker := time.NewTicker(CoreRecoveryProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for serverID, serverCfg := range m.registry.GetAll() {
			if !isCore(serverID, serverCfg) {
				continue
			}
			breaker := m.circuit.Get(serverID, true)
			if breaker.State() == gobreaker.StateClosed {
				continue
			}
			_, err := breaker.Execute(func() (interface{}, error) {
				probeCtx, cancel := context.WithTimeout(ctx, HandshakeTimeoutCore)
				defer cancel()
				return nil, m.EnsureServer(probeCtx, serverID)
			})
			if err != nil {
				m.logger.Debug("core server recovery probe failed", "server", serverID, "error", err)
				continue
			}
			m.logger.Info("core server recovered", "server", serverID)
		}
	}
}

// Close shuts down every live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, session := range m.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.clients = make(map[string]*mcpsdk.Client)
	return firstErr
}

// FailedServers reports servers that failed their most recent handshake.
func (m *Manager) FailedServers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.failedServers))
	for k, v := range m.failedServers {
		out[k] = v
	}
	return out
}

// HasSession reports whether serverID currently has a live session.
func (m *Manager) HasSession(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[serverID]
	return ok
}
