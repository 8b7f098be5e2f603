// Package nexus is the Nexus Regulator: the single-gate front door for
// chat input. It pattern-matches declarative triggers,
// classifies intent via a fast local model, may short-circuit to
// deterministic actions, and otherwise multiplexes the Agent Engine's token
// stream with the asynchronous system-event queue through a bounded channel
// select.
package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/format"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

// FixedGreeting is the deterministic reply for trivial conversational
// input.
const FixedGreeting = "Hello! How can I help you today?"

// actionVerbs disqualify a short message from the trivial short-circuit.
var actionVerbs = map[string]bool{
	"run": true, "create": true, "analyze": true, "search": true, "find": true,
	"show": true, "list": true, "get": true, "execute": true, "calculate": true,
}

// commandVerbs flag a potential trigger miss when they lead an unmatched
// message.
var commandVerbs = map[string]bool{
	"add": true, "install": true, "update": true, "remove": true, "delete": true,
	"create": true, "start": true, "stop": true, "restart": true, "enable": true,
	"disable": true,
}

// AgentStreamer is the Agent Engine surface the regulator hands off to.
type AgentStreamer interface {
	AgentStream(ctx context.Context, messages []agent.Message, model, requestID string, skipRefinement bool) <-chan events.StreamEvent
}

// Request is one chat dispatch.
type Request struct {
	RequestID string
	Model     string
	Messages  []agent.Message
}

// Regulator implements the dispatch algorithm.
type Regulator struct {
	cfg        *config.Config
	executor   *toolexec.Executor
	classifier IntentClassifier
	streamer   AgentStreamer
	layers     *Layers
	queue      *SystemQueue
	gauge      *tempo.Gauge
	logger     *slog.Logger

	// RequestRestart is invoked on the "restart" intent; nil makes the
	// intent advisory-only.
	RequestRestart func(ctx context.Context) error

	// reCache holds case-insensitive compiled trigger patterns.
	reCache sync.Map

	// pendingContext carries synthesized system-role messages describing
	// trigger actions that ran without an LLM turn, so the next agent
	// handover sees what happened.
	pendingMu      sync.Mutex
	pendingContext []agent.Message
}

// New builds a Regulator. classifier and streamer may be nil in tests, which
// degrades steps 8 and 9 to an error event.
func New(cfg *config.Config, executor *toolexec.Executor, classifier IntentClassifier, streamer AgentStreamer, gauge *tempo.Gauge, logger *slog.Logger) *Regulator {
	return &Regulator{
		cfg:        cfg,
		executor:   executor,
		classifier: classifier,
		streamer:   streamer,
		layers:     NewLayers(),
		queue:      NewSystemQueue(),
		gauge:      gauge,
		logger:     logger,
	}
}

// Layers exposes the layer map for the admin rollup and tests.
func (r *Regulator) Layers() *Layers { return r.layers }

// PushSystemEvent enqueues an asynchronous system event for multiplexing
// onto the matching request's stream.
func (r *Regulator) PushSystemEvent(ev events.StreamEvent) { r.queue.Push(ev) }

// Dispatch runs the full dispatch algorithm, returning the request's event
// stream. The returned channel always terminates with a done event.
func (r *Regulator) Dispatch(ctx context.Context, req Request) <-chan events.StreamEvent {
	out := make(chan events.StreamEvent, 32)
	go func() {
		defer close(out)
		defer r.queue.Release(req.RequestID)
		r.dispatch(ctx, req, out)
	}()
	return out
}

func (r *Regulator) dispatch(ctx context.Context, req Request, out chan<- events.StreamEvent) {
	if r.gauge != nil {
		r.gauge.Record()
	}
	message := lastUserContent(req.Messages)

	// Step 1: trivial conversational short-circuit.
	if r.isTrivial(message, req.Messages) {
		out <- events.Token(req.RequestID, FixedGreeting)
		out <- events.Done(req.RequestID)
		return
	}

	// Step 2: drain queued system events for this request.
	for _, ev := range r.queue.Drain(req.RequestID) {
		out <- ev
	}

	// Step 3: trigger match, first match wins in priority order.
	if trig := r.matchTrigger(message); trig != nil {
		if r.runTrigger(ctx, req, trig, out) {
			out <- events.Done(req.RequestID)
			return
		}
	} else if verb := firstWord(message); commandVerbs[verb] {
		// Step 7: unmatched command verb.
		r.logger.Warn("potential trigger miss", "verb", verb, "message", truncateForLog(message))
	}

	// Step 8: intent classifier fallback.
	if r.classifier != nil {
		intent, err := r.classifier.ClassifyIntent(ctx, message)
		if err != nil {
			r.logger.Warn("intent classification failed, falling through to agent", "error", err)
		} else if r.runIntent(ctx, req, intent, out) {
			out <- events.Done(req.RequestID)
			return
		}
	}

	// Step 9: agent handover with system-event multiplexing.
	r.handover(ctx, req, out)
}

// isTrivial implements step 1: ≤4 words, no action verbs, no prior context.
func (r *Regulator) isTrivial(message string, messages []agent.Message) bool {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(message)))
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		if actionVerbs[strings.Trim(w, ".,!?")] {
			return false
		}
	}
	userTurns := 0
	for _, m := range messages {
		if m.Role == "user" {
			userTurns++
		}
	}
	return userTurns <= 1
}

// matchTrigger tests the ordered trigger registry against message,
// case-insensitively, returning the first match.
func (r *Regulator) matchTrigger(message string) *config.TriggerConfig {
	for _, trig := range r.cfg.TriggerRegistry.Ordered() {
		re, err := r.compileInsensitive(trig.Pattern)
		if err != nil {
			r.logger.Warn("skipping trigger with bad pattern", "pattern", trig.Pattern, "error", err)
			continue
		}
		if re.MatchString(message) {
			return trig
		}
	}
	return nil
}

// compileInsensitive compiles pattern with case-insensitivity forced on,
// caching compiled expressions across dispatches.
func (r *Regulator) compileInsensitive(pattern string) (*regexp.Regexp, error) {
	if cached, ok := r.reCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	source := pattern
	if !strings.HasPrefix(source, "(?i)") {
		source = "(?i)" + source
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, err
	}
	r.reCache.Store(pattern, re)
	return re, nil
}

// runTrigger executes a matched trigger's action (steps 4–6), returning
// true when the dispatch stops here.
func (r *Regulator) runTrigger(ctx context.Context, req Request, trig *config.TriggerConfig, out chan<- events.StreamEvent) bool {
	switch trig.ActionType {
	case "ui_layer":
		layerName, _ := trig.ActionData["layer"].(string)
		state, ok := r.layers.Get(layerName)
		if !ok {
			out <- events.SystemStatus(req.RequestID, fmt.Sprintf("unknown layer %q", layerName), "")
			return true
		}
		if !state.Active {
			out <- events.SystemStatus(req.RequestID, fmt.Sprintf("layer %q is inactive", layerName), "")
			return true
		}
		out <- events.LayerUpdate(req.RequestID, layerName, state.Active, state.Opacity, state.Visible)
		return true

	case "diagnostic":
		callID := "trigger:" + trig.Intent
		out <- events.ToolStart(req.RequestID, callID, trig.Intent)
		out <- events.ToolEnd(req.RequestID, callID, trig.Intent, true, format.ToolOutput(trig.ActionData["output"]), 0)
		return true

	case "tool_call":
		tool, _ := trig.ActionData["tool"].(string)
		args, _ := trig.ActionData["args"].(map[string]any)
		callID := "trigger:" + trig.Intent
		out <- events.ToolStart(req.RequestID, callID, tool)
		res := r.executor.Execute(ctx, toolexec.ParseCall(callID, tool, args))
		rendered := res.Error
		if res.OK {
			rendered = format.ToolOutput(res.Result)
		}
		out <- events.ToolEnd(req.RequestID, callID, tool, res.OK, rendered, res.LatencyMS)
		r.rememberAction(fmt.Sprintf("Trigger %q executed tool %q; result: %s", trig.Intent, tool, truncateForLog(rendered)))
		return true

	case "control_ui":
		action, _ := trig.ActionData["action"].(string)
		callID := "trigger:" + trig.Intent
		out <- events.ToolStart(req.RequestID, callID, trig.Intent)
		out <- events.ControlUI(req.RequestID, action, trig.ActionData)
		out <- events.ToolEnd(req.RequestID, callID, trig.Intent, true, "", 0)
		r.rememberAction(fmt.Sprintf("Trigger %q issued UI control %q", trig.Intent, action))
		return true

	case "menu":
		callID := "trigger:" + trig.Intent
		out <- events.ToolStart(req.RequestID, callID, trig.Intent)
		out <- events.ToolEnd(req.RequestID, callID, trig.Intent, true, format.ToolOutput(trig.ActionData["items"]), 0)
		r.rememberAction(fmt.Sprintf("Trigger %q presented a menu", trig.Intent))
		return true

	default:
		// system_prompt/macro/switch_mode and bare-intent triggers fall
		// through to the classifier/agent, which sees the matched intent
		// via a synthesized context note.
		r.rememberAction(fmt.Sprintf("Trigger %q matched the input but carries no deterministic action.", trig.Intent))
		return false
	}
}

// runIntent executes a classified intent branch (step 8), returning true
// when dispatch stops here. "prompt" always falls through to the agent.
func (r *Regulator) runIntent(ctx context.Context, req Request, intent Intent, out chan<- events.StreamEvent) bool {
	switch {
	case intent.Kind == "prompt" || intent.Kind == "":
		return false

	case intent.Kind == "help":
		out <- events.Token(req.RequestID, r.helpText())
		return true

	case intent.Kind == "restart":
		if r.RequestRestart != nil {
			if err := r.RequestRestart(ctx); err != nil {
				out <- events.Error(req.RequestID, "restart", err.Error())
				return true
			}
		}
		out <- events.SystemStatus(req.RequestID, "restart scheduled", "")
		return true

	case intent.Kind == "emoji":
		state, _ := r.layers.Get(LayerEmoji)
		out <- events.LayerUpdate(req.RequestID, LayerEmoji, state.Active, state.Opacity, state.Visible)
		return true

	case strings.HasPrefix(intent.Kind, "disable_"), strings.HasPrefix(intent.Kind, "enable_"):
		enable := strings.HasPrefix(intent.Kind, "enable_")
		layerName := strings.TrimPrefix(strings.TrimPrefix(intent.Kind, "disable_"), "enable_")
		state, ok := r.layers.SetActive(layerName, enable)
		if !ok {
			out <- events.Error(req.RequestID, "intent", fmt.Sprintf("unknown layer %q", layerName))
			return true
		}
		out <- events.LayerUpdate(req.RequestID, layerName, state.Active, state.Opacity, state.Visible)
		return true

	case intent.Kind == "auto_execute" && len(intent.AutoExecute) > 0:
		for i, planned := range intent.AutoExecute {
			callID := fmt.Sprintf("auto:%d", i)
			out <- events.ToolStart(req.RequestID, callID, planned.Tool)
			res := r.executor.Execute(ctx, toolexec.ParseCall(callID, planned.Tool, planned.Args))
			rendered := res.Error
			if res.OK {
				rendered = format.ToolOutput(res.Result)
			}
			out <- events.ToolEnd(req.RequestID, callID, planned.Tool, res.OK, rendered, res.LatencyMS)
		}
		return true

	default:
		return false
	}
}

// handover starts the agent stream and multiplexes it with the system-event
// queue, emitting whichever source produces first until the agent stream
// terminates (step 9).
func (r *Regulator) handover(ctx context.Context, req Request, out chan<- events.StreamEvent) {
	if r.streamer == nil {
		out <- events.Error(req.RequestID, "agent", "no agent engine configured")
		out <- events.Done(req.RequestID)
		return
	}

	messages := r.injectPendingContext(req.Messages)
	agentCh := r.streamer.AgentStream(ctx, messages, req.Model, req.RequestID, false)
	sysCh := r.queue.Channel(req.RequestID)

	for {
		select {
		case <-ctx.Done():
			out <- events.Error(req.RequestID, "cancelled", ctx.Err().Error())
			out <- events.Done(req.RequestID)
			return
		case ev := <-sysCh:
			out <- ev
		case ev, ok := <-agentCh:
			if !ok {
				out <- events.Done(req.RequestID)
				return
			}
			out <- ev
			if ev.Type == events.EventTypeDone {
				return
			}
		}
	}
}

// rememberAction stores a synthesized system-role note describing a
// deterministic action that just ran, injected at the next agent handover.
func (r *Regulator) rememberAction(summary string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pendingContext = append(r.pendingContext, agent.Message{
		Role:    "system",
		Content: fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), summary),
	})
	if len(r.pendingContext) > 5 {
		r.pendingContext = r.pendingContext[len(r.pendingContext)-5:]
	}
}

// injectPendingContext prepends and clears any accumulated trigger-action
// notes.
func (r *Regulator) injectPendingContext(messages []agent.Message) []agent.Message {
	r.pendingMu.Lock()
	pending := r.pendingContext
	r.pendingContext = nil
	r.pendingMu.Unlock()
	if len(pending) == 0 {
		return messages
	}
	out := make([]agent.Message, 0, len(pending)+len(messages))
	out = append(out, pending...)
	return append(out, messages...)
}

func (r *Regulator) helpText() string {
	var b strings.Builder
	b.WriteString("Available triggers:\n")
	for _, trig := range r.cfg.TriggerRegistry.Ordered() {
		if trig.Description == "" {
			continue
		}
		fmt.Fprintf(&b, "- **%s** — %s\n", trig.Intent, trig.Description)
	}
	b.WriteString("\nAnything else is answered by the agent.")
	return b.String()
}

func lastUserContent(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func firstWord(message string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(message)))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!?")
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}

// MarshalLayerState renders the layer map for the admin rollup.
func (r *Regulator) MarshalLayerState() json.RawMessage {
	raw, err := json.Marshal(r.layers.Snapshot())
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
