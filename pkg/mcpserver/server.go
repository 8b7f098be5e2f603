// Package mcpserver exposes the aggregated tool surface over JSON-RPC 2.0
// on SSE: clients GET /mcp/sse for a session-scoped stream, then POST
// JSON-RPC messages to
// /mcp/messages and read responses off the stream. Dispatch is table-driven
// and every tools/call runs the Logging → Write-Own → Privacy interceptor
// stack.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/delgross/ai-orchestrator-sub002/internal/apierrors"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
	"github.com/delgross/ai-orchestrator-sub002/pkg/version"
)

// sessionQueueCap bounds each SSE session's pending-response queue.
const sessionQueueCap = 32

// AskFunc delegates the ask_antigravity meta-tool to the internal agent
// loop.
type AskFunc func(ctx context.Context, query, requestID string) (string, error)

// ToolLister supplies the aggregated tool schemas for tools/list; the Agent
// Engine implements it.
type ToolLister interface {
	GetAllTools(ctx context.Context) []agent.ToolDefinition
}

// ResourceStore supplies sovereign-file resources for resources/list and
// resources/read; pkg/memory implements it.
type ResourceStore interface {
	AllSovereignContents(ctx context.Context) (map[string]string, error)
}

// session is one connected SSE client.
type session struct {
	id         string
	clientName string
	created    time.Time
	queue      chan rpcResponse
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// push enqueues a response, dropping it (logged by the caller) when the
// client has stopped draining.
func (s *session) push(resp rpcResponse) bool {
	select {
	case s.queue <- resp:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Server is the MCP SSE server.
type Server struct {
	executor     *toolexec.Executor
	tools        ToolLister
	resources    ResourceStore
	ask          AskFunc
	interceptors []Interceptor
	logger       *slog.Logger
	bearerToken  string
	basePath     string

	mu       sync.Mutex
	sessions map[string]*session

	methods map[string]methodHandler
}

// methodHandler processes one JSON-RPC method. A nil response means the
// request was a notification with nothing to push.
type methodHandler func(ctx context.Context, sess *session, req rpcRequest) *rpcResponse

// New builds a Server. bearerToken "" disables authentication.
func New(executor *toolexec.Executor, tools ToolLister, resources ResourceStore, ask AskFunc, interceptors []Interceptor, bearerToken string, logger *slog.Logger) *Server {
	s := &Server{
		executor:     executor,
		tools:        tools,
		resources:    resources,
		ask:          ask,
		interceptors: interceptors,
		logger:       logger,
		bearerToken:  bearerToken,
		basePath:     "/mcp",
		sessions:     make(map[string]*session),
	}
	s.methods = map[string]methodHandler{
		"initialize":                s.handleInitialize,
		"notifications/initialized": s.handleInitialized,
		"tools/list":                s.handleToolsList,
		"tools/call":                s.handleToolsCall,
		"resources/list":            s.handleResourcesList,
		"resources/read":            s.handleResourcesRead,
		"prompts/list":              s.handlePromptsList,
		"prompts/get":               s.handlePromptsGet,
		"ping":                      s.handlePing,
		"debug/session":             s.handleDebugSession,
	}
	return s
}

// Routes registers the SSE and message endpoints on e.
func (s *Server) Routes(e *echo.Echo) {
	e.GET(s.basePath+"/sse", s.sseHandler)
	e.POST(s.basePath+"/messages", s.messagesHandler)
}

// authorize enforces the optional bearer token.
func (s *Server) authorize(c *echo.Context) error {
	if s.bearerToken == "" {
		return nil
	}
	if c.Request().Header.Get("Authorization") != "Bearer "+s.bearerToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
	}
	return nil
}

// sseHandler implements GET /mcp/sse: it opens a session, immediately sends
// the endpoint event carrying the session-scoped POST URL, then drains the
// session queue as message events until the client disconnects.
func (s *Server) sseHandler(c *echo.Context) error {
	if err := s.authorize(c); err != nil {
		return err
	}

	sess := &session{
		id:      uuid.NewString(),
		created: time.Now(),
		queue:   make(chan rpcResponse, sessionQueueCap),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		sess.close()
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	}()

	resp := c.Response()
	h := resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s/messages?session_id=%s", s.basePath, sess.id)
	if err := writeSSE(resp, "endpoint", fmt.Sprintf(`{"uri":%q}`, endpoint)); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.done:
			return nil
		case out := <-sess.queue:
			payload, err := json.Marshal(out)
			if err != nil {
				s.logger.Error("could not marshal rpc response", "session", sess.id, "error", err)
				continue
			}
			if err := writeSSE(resp, "message", string(payload)); err != nil {
				return nil
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// messagesHandler implements POST /mcp/messages: accept one JSON-RPC
// request, return 202 immediately, and process asynchronously onto the SSE
// stream.
func (s *Server) messagesHandler(c *echo.Context) error {
	if err := s.authorize(c); err != nil {
		return err
	}

	sessionID := c.QueryParam("session_id")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}

	var req rpcRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON-RPC payload")
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "not a JSON-RPC 2.0 request")
	}

	go s.process(sess, req)
	return c.NoContent(http.StatusAccepted)
}

// process dispatches one request via the method table and pushes any
// response onto the session's stream.
func (s *Server) process(sess *session, req rpcRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	handler, ok := s.methods[req.Method]
	if !ok {
		if req.isNotification() {
			return
		}
		resp := newError(req.ID, apierrors.RPCCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		if !sess.push(resp) {
			s.logger.Warn("dropped rpc response for stalled session", "session", sess.id, "method", req.Method)
		}
		return
	}

	resp := handler(ctx, sess, req)
	if resp == nil {
		return
	}
	if !sess.push(*resp) {
		s.logger.Warn("dropped rpc response for stalled session", "session", sess.id, "method", req.Method)
	}
}

// ---- method handlers ----

func (s *Server) handleInitialize(_ context.Context, sess *session, req rpcRequest) *rpcResponse {
	var params struct {
		ClientInfo struct {
			Name string `json:"name"`
		} `json:"clientInfo"`
	}
	_ = json.Unmarshal(req.Params, &params)
	if params.ClientInfo.Name != "" {
		sess.clientName = params.ClientInfo.Name
	} else {
		sess.clientName = "anonymous"
	}

	resp := newResult(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{"name": version.AppName, "version": version.GitCommit},
	})
	return &resp
}

func (s *Server) handleInitialized(_ context.Context, sess *session, _ rpcRequest) *rpcResponse {
	s.logger.Info("mcp client initialized", "session", sess.id, "client", sess.clientName)
	return nil
}

// handleToolsList returns the union of internal tools, all cached MCP
// tools, and the ask_antigravity meta-tool.
func (s *Server) handleToolsList(ctx context.Context, _ *session, req rpcRequest) *rpcResponse {
	defs := s.tools.GetAllTools(ctx)
	tools := make([]map[string]any, 0, len(defs)+1)
	for _, def := range defs {
		tools = append(tools, map[string]any{
			"name":        def.Function.Name,
			"description": def.Function.Description,
			"inputSchema": def.Function.Parameters,
		})
	}
	tools = append(tools, map[string]any{
		"name":        "ask_antigravity",
		"description": "Delegate a free-form question to the orchestrator's internal agent loop.",
		"inputSchema": map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	})
	resp := newResult(req.ID, map[string]any{"tools": tools})
	return &resp
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session, req rpcRequest) *rpcResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, "tools/call requires a name")
		return &resp
	}

	call := &CallContext{Client: sess.clientName, Tool: params.Name, Args: params.Arguments}
	for _, interceptor := range s.interceptors {
		if err := interceptor.Before(ctx, call); err != nil {
			resp := newError(req.ID, apierrors.RPCCode(err), err.Error())
			return &resp
		}
	}

	if call.Tool == "ask_antigravity" {
		return s.callAsk(ctx, req, call)
	}

	result := s.executor.Execute(ctx, toolexec.ParseCall(uuid.NewString(), call.Tool, call.Args))
	resp := newResult(req.ID, toolResultEnvelope(result))
	return &resp
}

func (s *Server) callAsk(ctx context.Context, req rpcRequest, call *CallContext) *rpcResponse {
	if s.ask == nil {
		resp := newError(req.ID, apierrors.RPCCodeInternalError, "agent delegation is not available")
		return &resp
	}
	query, _ := call.Args["query"].(string)
	if query == "" {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, "ask_antigravity requires a query")
		return &resp
	}
	answer, err := s.ask(ctx, query, "mcp-"+uuid.NewString()[:8])
	if err != nil {
		resp := newResult(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		})
		return &resp
	}
	resp := newResult(req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": answer}},
	})
	return &resp
}

// toolResultEnvelope renders a Tool Executor result as MCP content.
func toolResultEnvelope(result toolexec.Result) map[string]any {
	if !result.OK {
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": result.Error}},
			"isError": true,
		}
	}
	text := ""
	switch v := result.Result.(type) {
	case string:
		text = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(raw)
		}
	}
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

func (s *Server) handleResourcesList(ctx context.Context, _ *session, req rpcRequest) *rpcResponse {
	resources := []map[string]any{}
	if s.resources != nil {
		contents, err := s.resources.AllSovereignContents(ctx)
		if err != nil {
			resp := newError(req.ID, apierrors.RPCCodeInternalError, err.Error())
			return &resp
		}
		for kbID := range contents {
			resources = append(resources, map[string]any{
				"uri":      "memory://" + kbID,
				"name":     kbID,
				"mimeType": "text/markdown",
			})
		}
	}
	resp := newResult(req.ID, map[string]any{"resources": resources})
	return &resp
}

func (s *Server) handleResourcesRead(ctx context.Context, sess *session, req rpcRequest) *rpcResponse {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, "resources/read requires a uri")
		return &resp
	}

	// The privacy interceptor guards memory:// reads here too.
	call := &CallContext{Client: sess.clientName, Tool: "read_resource", Args: map[string]any{"uri": params.URI}}
	for _, interceptor := range s.interceptors {
		if err := interceptor.Before(ctx, call); err != nil {
			resp := newError(req.ID, apierrors.RPCCode(err), err.Error())
			return &resp
		}
	}

	kbID, ok := strings.CutPrefix(params.URI, "memory://")
	if !ok || s.resources == nil {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, fmt.Sprintf("unsupported resource uri %q", params.URI))
		return &resp
	}
	contents, err := s.resources.AllSovereignContents(ctx)
	if err != nil {
		resp := newError(req.ID, apierrors.RPCCodeInternalError, err.Error())
		return &resp
	}
	content, ok := contents[kbID]
	if !ok {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, fmt.Sprintf("no resource %q", params.URI))
		return &resp
	}
	resp := newResult(req.ID, map[string]any{
		"contents": []map[string]any{{"uri": params.URI, "mimeType": "text/markdown", "text": content}},
	})
	return &resp
}

// serverPrompts are the static prompt templates exposed over prompts/list.
var serverPrompts = map[string]struct {
	description string
	text        string
}{
	"system_status_report": {
		description: "Summarize current orchestrator health for an operator.",
		text:        "Summarize the orchestrator's scheduler, MCP server, and ingestion health. Flag anything degraded first.",
	},
	"memory_digest": {
		description: "Digest recent facts and episodes into a short briefing.",
		text:        "Review the most recent stored facts and summarize what changed, grouped by knowledge base.",
	},
}

func (s *Server) handlePromptsList(_ context.Context, _ *session, req rpcRequest) *rpcResponse {
	prompts := make([]map[string]any, 0, len(serverPrompts))
	for name, p := range serverPrompts {
		prompts = append(prompts, map[string]any{"name": name, "description": p.description})
	}
	resp := newResult(req.ID, map[string]any{"prompts": prompts})
	return &resp
}

func (s *Server) handlePromptsGet(_ context.Context, _ *session, req rpcRequest) *rpcResponse {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, "prompts/get requires a name")
		return &resp
	}
	p, ok := serverPrompts[params.Name]
	if !ok {
		resp := newError(req.ID, apierrors.RPCCodeInvalidParams, fmt.Sprintf("unknown prompt %q", params.Name))
		return &resp
	}
	resp := newResult(req.ID, map[string]any{
		"description": p.description,
		"messages": []map[string]any{
			{"role": "user", "content": map[string]any{"type": "text", "text": p.text}},
		},
	})
	return &resp
}

func (s *Server) handlePing(_ context.Context, _ *session, req rpcRequest) *rpcResponse {
	resp := newResult(req.ID, map[string]any{})
	return &resp
}

func (s *Server) handleDebugSession(_ context.Context, sess *session, req rpcRequest) *rpcResponse {
	resp := newResult(req.ID, map[string]any{
		"session_id": sess.id,
		"client":     sess.clientName,
		"created_at": sess.created.Format(time.RFC3339),
		"queued":     len(sess.queue),
	})
	return &resp
}

// ActiveSessions reports the live session count, for the admin rollup.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
