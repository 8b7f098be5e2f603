package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/delgross/ai-orchestrator-sub002/internal/budget"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/format"
	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
	"github.com/delgross/ai-orchestrator-sub002/pkg/mcptransport"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

// EpisodeRecorder is the slice of pkg/memory the engine writes completed
// conversations through, kept narrow for tests.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, requestID string, messages json.RawMessage) (int64, error)
}

// Engine drives the multi-step tool loop. It is constructed
// once in cmd/orchestrator/main.go and shared by the Nexus Regulator, the
// MCP SSE server's ask_antigravity meta-tool, and the ingestion enrichment
// adapters.
type Engine struct {
	cfg      *config.Config
	executor *toolexec.Executor
	manager  *mcptransport.Manager
	episodes EpisodeRecorder
	budget   *budget.Tracker
	logger   *slog.Logger

	deprecation *deprecationCache

	// internalTools carries the wire schemas of the executor's registered
	// internal tools; the executor itself only knows handlers by name.
	internalMu    sync.RWMutex
	internalTools []ToolDefinition

	// newClient builds an LLMClient for a resolved provider; replaced in
	// tests with a fake factory.
	newClient func(provider *config.LLMProviderConfig) (LLMClient, error)

	// toolSem bounds parallel tool execution within one iteration.
	toolSem chan struct{}

	systemPromptPrefix string
	sovereign          SovereignReader
}

// SovereignReader provides sovereign-file content for system-prompt context
// injection.
type SovereignReader interface {
	AllSovereignContents(ctx context.Context) (map[string]string, error)
}

// NewEngine builds an Engine. episodes, ratings, and sovereign may be nil in
// tests; budget tracking is skipped when tracker is nil.
func NewEngine(cfg *config.Config, executor *toolexec.Executor, manager *mcptransport.Manager, episodes EpisodeRecorder, ratings ToolRatings, sovereign SovereignReader, tracker *budget.Tracker, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:         cfg,
		executor:    executor,
		manager:     manager,
		episodes:    episodes,
		budget:      tracker,
		logger:      logger,
		deprecation: newDeprecationCache(ratings),
		toolSem:     make(chan struct{}, 4),
		sovereign:   sovereign,
		systemPromptPrefix: "You are an autonomous orchestration agent. Use the provided tools when a " +
			"question needs live system state, memory, or external action; answer directly otherwise. " +
			"Tool results arrive as tool messages; weave them into your reply rather than repeating them verbatim.",
	}
	e.newClient = func(provider *config.LLMProviderConfig) (LLMClient, error) {
		return NewHTTPClient(provider, cfg.System)
	}
	return e
}

// RegisterInternalTool publishes an internal tool's wire schema so tool
// selection can offer it to the model. The handler itself is registered
// separately on the Tool Executor.
func (e *Engine) RegisterInternalTool(name, description string, parameters map[string]any) {
	e.internalMu.Lock()
	defer e.internalMu.Unlock()
	for i, t := range e.internalTools {
		if t.Function.Name == name {
			e.internalTools[i].Function = ToolFunction{Name: name, Description: description, Parameters: parameters}
			return
		}
	}
	e.internalTools = append(e.internalTools, ToolDefinition{
		Type:     "function",
		Function: ToolFunction{Name: name, Description: description, Parameters: parameters},
	})
}

// GetAllTools returns the ordered tool list offered to the model: internal
// tools first, then every cached MCP tool under its mcp__<server>__<tool>
// wire name, with deprecated tools filtered unless core.
func (e *Engine) GetAllTools(ctx context.Context) []ToolDefinition {
	deprecated := e.deprecation.deprecated(ctx)

	e.internalMu.RLock()
	out := make([]ToolDefinition, 0, len(e.internalTools))
	for _, t := range e.internalTools {
		if deprecated[t.Function.Name] && !CoreToolNames[t.Function.Name] {
			continue
		}
		out = append(out, t)
	}
	e.internalMu.RUnlock()

	if e.manager == nil {
		return out
	}
	for server, tools := range e.manager.ListAllTools() {
		for _, tool := range tools {
			wireName := fmt.Sprintf("mcp__%s__%s", server, tool.Name)
			if deprecated[wireName] && !CoreToolNames[wireName] {
				continue
			}
			out = append(out, ToolDefinition{
				Type: "function",
				Function: ToolFunction{
					Name:        wireName,
					Description: tool.Description,
					Parameters:  schemaToMap(tool.InputSchema),
				},
			})
		}
	}
	return out
}

// GetSystemPrompt builds the per-request system prompt, injecting sovereign
// file context when available.
func (e *Engine) GetSystemPrompt(ctx context.Context) string {
	prompt := e.systemPromptPrefix
	if e.sovereign == nil {
		return prompt
	}
	contents, err := e.sovereign.AllSovereignContents(ctx)
	if err != nil || len(contents) == 0 {
		return prompt
	}
	prompt += "\n\nPermanent context (sovereign files):"
	total := 0
	for kbID, content := range contents {
		if total > 8000 {
			break
		}
		if len(content) > 2000 {
			content = content[:2000] + "…"
		}
		prompt += fmt.Sprintf("\n\n[%s]\n%s", kbID, content)
		total += len(content)
	}
	return prompt
}

// ExecuteToolCall delegates to the Tool Executor.
func (e *Engine) ExecuteToolCall(ctx context.Context, call toolexec.ToolCall) toolexec.Result {
	return e.executor.Execute(ctx, call)
}

// client resolves the LLMClient for a model/provider name, "" meaning the
// configured default.
func (e *Engine) client(providerName string) (LLMClient, error) {
	provider, err := e.cfg.ResolvedLLMProvider(providerName)
	if err != nil {
		return nil, err
	}
	return e.newClient(provider)
}

// AgentLoop is the synchronous variant: it iterates the tool
// loop to completion and returns the final assistant message.
func (e *Engine) AgentLoop(ctx context.Context, messages []Message, model, requestID string) (Message, error) {
	client, err := e.client(model)
	if err != nil {
		return Message{}, err
	}

	conversation := e.withSystemPrompt(ctx, messages)
	maxSteps := e.maxToolSteps()

	for step := 0; step < maxSteps; step++ {
		resp, err := client.Complete(ctx, CompletionRequest{
			Messages: conversation,
			Tools:    e.GetAllTools(ctx),
		})
		if err != nil {
			return Message{}, fmt.Errorf("agent loop step %d: %w", step+1, err)
		}
		e.recordUsage(requestID, resp.Usage)

		if len(resp.Message.ToolCalls) == 0 {
			e.recordEpisode(ctx, requestID, append(conversation, resp.Message))
			return resp.Message, nil
		}

		conversation = append(conversation, resp.Message)
		results := e.executeParallel(ctx, requestID, resp.Message.ToolCalls, nil)
		conversation = append(conversation, results...)
	}

	final := Message{Role: "assistant", Content: "I reached my tool-use limit before finishing; here is what I have so far."}
	e.recordEpisode(ctx, requestID, append(conversation, final))
	return final, nil
}

// AgentStream is the streaming variant: tokens and tool events
// are emitted as they happen. skipRefinement suppresses the final polish
// pass some callers (the MCP meta-tool) don't want.
func (e *Engine) AgentStream(ctx context.Context, messages []Message, model, requestID string, skipRefinement bool) <-chan events.StreamEvent {
	out := make(chan events.StreamEvent, 32)
	go func() {
		defer close(out)
		if err := e.streamLoop(ctx, messages, model, requestID, out); err != nil {
			e.logger.Error("agent stream failed", "request_id", requestID, "error", err)
			out <- events.Error(requestID, "agent", err.Error())
		}
		out <- events.Done(requestID)
	}()
	return out
}

func (e *Engine) streamLoop(ctx context.Context, messages []Message, model, requestID string, out chan<- events.StreamEvent) error {
	client, err := e.client(model)
	if err != nil {
		return err
	}

	conversation := e.withSystemPrompt(ctx, messages)
	maxSteps := e.maxToolSteps()

	for step := 0; step < maxSteps; step++ {
		chunks, err := client.Stream(ctx, CompletionRequest{
			Messages: conversation,
			Tools:    e.GetAllTools(ctx),
		})
		if err != nil {
			return fmt.Errorf("agent stream step %d: %w", step+1, err)
		}

		var assistantText string
		var toolCalls []ToolCall
		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				return chunk.Err
			case chunk.Usage != nil:
				e.recordUsage(requestID, *chunk.Usage)
			case chunk.Delta != "":
				assistantText += chunk.Delta
				out <- events.Token(requestID, chunk.Delta)
			case len(chunk.ToolCalls) > 0:
				toolCalls = append(toolCalls, chunk.ToolCalls...)
			}
		}

		if len(toolCalls) == 0 {
			e.recordEpisode(ctx, requestID, append(conversation, Message{Role: "assistant", Content: assistantText}))
			return nil
		}

		conversation = append(conversation, Message{Role: "assistant", Content: assistantText, ToolCalls: toolCalls})
		results := e.executeParallel(ctx, requestID, toolCalls, out)
		conversation = append(conversation, results...)
	}
	return nil
}

// executeParallel runs one iteration's tool calls concurrently through the
// bounded semaphore, preserving call order in the returned tool
// messages. When out is non-nil, tool_start/tool_end events are emitted
// around each call.
func (e *Engine) executeParallel(ctx context.Context, requestID string, calls []ToolCall, out chan<- events.StreamEvent) []Message {
	results := make([]Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			e.toolSem <- struct{}{}
			defer func() { <-e.toolSem }()

			callID := call.ID
			if callID == "" {
				callID = uuid.NewString()
			}
			if out != nil {
				out <- events.ToolStart(requestID, callID, call.Function.Name)
			}

			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil && call.Function.Arguments != "" {
				args = map[string]any{"raw": call.Function.Arguments}
			}
			res := e.executor.Execute(ctx, toolexec.ParseCall(callID, call.Function.Name, args))

			content := res.Error
			if res.OK {
				content = format.ToolOutput(res.Result)
			}
			if out != nil {
				out <- events.ToolEnd(requestID, callID, call.Function.Name, res.OK, content, res.LatencyMS)
			}
			results[i] = Message{Role: "tool", ToolCallID: callID, Name: call.Function.Name, Content: content}
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) withSystemPrompt(ctx context.Context, messages []Message) []Message {
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: e.GetSystemPrompt(ctx)})
	return append(out, messages...)
}

func (e *Engine) maxToolSteps() int {
	if e.cfg.Defaults != nil && e.cfg.Defaults.MaxToolSteps != nil {
		return *e.cfg.Defaults.MaxToolSteps
	}
	return config.DefaultMaxToolSteps
}

func (e *Engine) recordUsage(requestID string, u Usage) {
	if e.budget == nil {
		return
	}
	e.budget.Record(requestID, budget.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	})
}

// recordEpisode persists the finished conversation for later consolidation.
// Failures are logged, never surfaced — memory
// bookkeeping must not break the reply.
func (e *Engine) recordEpisode(ctx context.Context, requestID string, conversation []Message) {
	if e.episodes == nil {
		return
	}
	raw, err := json.Marshal(conversation)
	if err != nil {
		e.logger.Error("could not marshal episode", "request_id", requestID, "error", err)
		return
	}
	if _, err := e.episodes.RecordEpisode(ctx, requestID, raw); err != nil {
		e.logger.Error("could not record episode", "request_id", requestID, "error", err)
	}
}
