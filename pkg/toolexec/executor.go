// Package toolexec is the Tool Executor: the single execute_tool_call
// entry point that dispatches a ToolCall to either the internal tool
// registry or the MCP Transport
// Manager, records latency/success, and applies result masking. A sealed
// ToolCall sum type drives dispatch: internal calls carry a typed argument
// map, MCP calls stay an open variant since their schema isn't known ahead
// of time.
package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/delgross/ai-orchestrator-sub002/internal/masking"
	"github.com/delgross/ai-orchestrator-sub002/internal/statestore"
	"github.com/delgross/ai-orchestrator-sub002/pkg/mcptransport"
)

const mcpPrefix = "mcp__"

// Kind distinguishes the two ToolCall variants.
type Kind int

const (
	KindInternal Kind = iota
	KindMCP
)

// InternalCall is an internal tool invocation: a registered name plus its
// argument map.
type InternalCall struct {
	Tool string
	Args map[string]any
}

// MCPCall is a proxied invocation of toolName on an external MCP server.
type MCPCall struct {
	Server string
	Tool   string
	Args   map[string]any
}

// ToolCall is the sealed sum type driving the executor. Exactly one of
// Internal/MCP is populated, selected by Kind.
type ToolCall struct {
	ID       string
	Name     string
	Kind     Kind
	Internal InternalCall
	MCP      MCPCall
}

// ParseCall builds a ToolCall from the wire contract's {name, arguments, id}
// : name is either a bare internal tool name or
// mcp__<server>__<tool>.
func ParseCall(id, name string, args map[string]any) ToolCall {
	if rest, ok := strings.CutPrefix(name, mcpPrefix); ok {
		if server, tool, ok := strings.Cut(rest, "__"); ok && server != "" && tool != "" {
			return ToolCall{ID: id, Name: name, Kind: KindMCP, MCP: MCPCall{Server: server, Tool: tool, Args: args}}
		}
	}
	return ToolCall{ID: id, Name: name, Kind: KindInternal, Internal: InternalCall{Tool: name, Args: args}}
}

// Result is the executor's result envelope.
type Result struct {
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Tool      string `json:"tool"`
}

// InternalHandler implements one internal tool's logic.
type InternalHandler func(ctx context.Context, args map[string]any) (any, error)

// Local retry policy for internal tools.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Executor dispatches tool calls to either the internal registry or the MCP
// Transport Manager.
type Executor struct {
	manager *mcptransport.Manager
	mask    *masking.MaskingService
	store   *statestore.Store
	logger  *slog.Logger

	internal map[string]InternalHandler

	latencyHist metric.Float64Histogram
	callCounter metric.Int64Counter
}

// New builds an Executor. store and mask may be nil: a nil store skips
// tool_performance writes and a nil mask skips result masking, useful in
// tests that don't spin up a database or server registry.
func New(manager *mcptransport.Manager, mask *masking.MaskingService, store *statestore.Store, logger *slog.Logger) *Executor {
	meter := otel.Meter("ai-orchestrator/toolexec")
	latencyHist, _ := meter.Float64Histogram("tool_call_latency_ms",
		metric.WithDescription("Tool call latency in milliseconds"))
	callCounter, _ := meter.Int64Counter("tool_call_total",
		metric.WithDescription("Tool calls by tool and outcome"))
	return &Executor{
		manager:     manager,
		mask:        mask,
		store:       store,
		logger:      logger,
		internal:    make(map[string]InternalHandler),
		latencyHist: latencyHist,
		callCounter: callCounter,
	}
}

// Register adds an internal tool handler under name, replacing any existing
// one of the same name.
func (e *Executor) Register(name string, handler InternalHandler) {
	e.internal[name] = handler
}

// Tools lists the registered internal tool names.
func (e *Executor) Tools() []string {
	out := make([]string, 0, len(e.internal))
	for name := range e.internal {
		out = append(out, name)
	}
	return out
}

// Execute runs call and returns its result envelope. It never returns a Go
// error: every failure mode is folded into Result.Error so the Agent Engine
// and MCP SSE server always get a well-formed envelope to surface back to
// the caller.
func (e *Executor) Execute(ctx context.Context, call ToolCall) Result {
	var res Result
	switch call.Kind {
	case KindMCP:
		res = e.executeMCP(ctx, call.MCP)
	default:
		res = e.executeInternal(ctx, call.Internal)
	}
	res.Tool = call.Name

	e.recordOutcome(call.Name, res)
	return res
}

func (e *Executor) executeMCP(ctx context.Context, call MCPCall) Result {
	cr, err := e.manager.CallTool(ctx, call.Server, call.Tool, call.Args)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	if !cr.OK {
		return Result{OK: false, Error: cr.Error, LatencyMS: cr.LatencyMS}
	}

	value, isErr := e.mcpResultToAny(cr.Result, call.Server)
	if isErr {
		errMsg, _ := value.(string)
		if errMsg == "" {
			errMsg = "tool reported an error"
		}
		return Result{OK: false, Error: errMsg, LatencyMS: cr.LatencyMS}
	}
	return Result{OK: true, Result: value, LatencyMS: cr.LatencyMS}
}

// mcpResultToAny flattens an MCP CallToolResult's Content list into a value
// the format package can render, masking any text content against serverID's
// configured patterns first, preserving multi-item and non-text content
// instead of discarding it.
func (e *Executor) mcpResultToAny(result *mcpsdk.CallToolResult, serverID string) (any, bool) {
	if result == nil {
		return nil, false
	}

	items := make([]any, 0, len(result.Content))
	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text := tc.Text
			if e.mask != nil {
				text = e.mask.MaskToolResult(text, serverID)
			}
			texts = append(texts, text)
			items = append(items, text)
			continue
		}
		items = append(items, map[string]any{"type": "unsupported", "text": fmt.Sprintf("%v", c)})
	}

	if result.IsError {
		return strings.Join(texts, "\n"), true
	}
	if len(items) == 1 {
		return items[0], false
	}
	return items, false
}

func (e *Executor) executeInternal(ctx context.Context, call InternalCall) Result {
	handler, ok := e.internal[call.Tool]
	if !ok {
		return Result{OK: false, Error: fmt.Sprintf("unknown tool: %s", call.Tool)}
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(int64(1)<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{OK: false, Error: ctx.Err().Error()}
			}
		}

		start := time.Now()
		out, err := handler(ctx, call.Args)
		latency := time.Since(start).Milliseconds()
		if err == nil {
			return Result{OK: true, Result: out, LatencyMS: latency}
		}
		lastErr = err
		e.logger.Warn("internal tool attempt failed", "tool", call.Tool, "attempt", attempt+1, "error", err)
	}
	return Result{OK: false, Error: lastErr.Error()}
}

// recordOutcome writes the otel latency/outcome instruments synchronously
// (cheap, in-process) and the tool_performance row asynchronously with a
// bounded timeout so a slow state store never adds latency to the caller's
// tool result.
func (e *Executor) recordOutcome(tool string, res Result) {
	if e.latencyHist != nil {
		e.latencyHist.Record(context.Background(), float64(res.LatencyMS), metric.WithAttributes(
			attribute.String("tool", tool), attribute.Bool("ok", res.OK)))
	}
	if e.callCounter != nil {
		e.callCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("tool", tool), attribute.Bool("ok", res.OK)))
	}
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.RecordToolOutcome(ctx, tool, res.OK); err != nil {
			e.logger.Error("record tool outcome failed", "tool", tool, "error", err)
		}
	}()
}
