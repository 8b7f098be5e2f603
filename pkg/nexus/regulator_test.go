package nexus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func testConfig(triggers map[string]*config.TriggerConfig) *config.Config {
	return &config.Config{
		Defaults:        &config.Defaults{LLMProvider: "router-default"},
		TriggerRegistry: config.NewTriggerRegistry(triggers),
	}
}

func userMessage(content string) []agent.Message {
	return []agent.Message{{Role: "user", Content: content}}
}

func collect(ch <-chan events.StreamEvent) []events.StreamEvent {
	var out []events.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// fakeStreamer replays a fixed event sequence as the agent stream.
type fakeStreamer struct {
	events []events.StreamEvent
	called int
}

func (f *fakeStreamer) AgentStream(_ context.Context, _ []agent.Message, _, requestID string, _ bool) <-chan events.StreamEvent {
	f.called++
	out := make(chan events.StreamEvent, len(f.events)+1)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			ev.RequestID = requestID
			out <- ev
		}
		out <- events.Done(requestID)
	}()
	return out
}

type fixedClassifier struct {
	intent Intent
}

func (f fixedClassifier) ClassifyIntent(context.Context, string) (Intent, error) {
	return f.intent, nil
}

func newTestExecutor(t *testing.T) *toolexec.Executor {
	t.Helper()
	return toolexec.New(nil, nil, nil, discardLogger())
}

func TestDispatch_TrivialShortCircuit(t *testing.T) {
	streamer := &fakeStreamer{}
	r := New(testConfig(nil), newTestExecutor(t), nil, streamer, tempo.NewDefaultGauge(), discardLogger())

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r1", Messages: userMessage("hi")}))

	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeToken, got[0].Type)
	assert.Equal(t, FixedGreeting, got[0].Delta)
	assert.Equal(t, events.EventTypeDone, got[1].Type)
	assert.Zero(t, streamer.called, "trivial input must never reach the agent")
}

func TestDispatch_ActionVerbDefeatsShortCircuit(t *testing.T) {
	streamer := &fakeStreamer{events: []events.StreamEvent{events.Token("", "working")}}
	r := New(testConfig(nil), newTestExecutor(t), nil, streamer, tempo.NewDefaultGauge(), discardLogger())

	collect(r.Dispatch(context.Background(), Request{RequestID: "r2", Messages: userMessage("run it")}))
	assert.Equal(t, 1, streamer.called)
}

func TestDispatch_TriggerToolCall(t *testing.T) {
	exec := newTestExecutor(t)
	exec.Register("get_system_status", func(context.Context, map[string]any) (any, error) {
		return "all green", nil
	})

	triggers := map[string]*config.TriggerConfig{
		"status": {
			Pattern:    `^status$`,
			Intent:     "system_status",
			ActionType: "tool_call",
			ActionData: map[string]any{"tool": "get_system_status", "args": map[string]any{}},
			Priority:   100,
		},
	}
	streamer := &fakeStreamer{}
	r := New(testConfig(triggers), exec, nil, streamer, tempo.NewDefaultGauge(), discardLogger())

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r3", Messages: userMessage("status")}))

	require.Len(t, got, 3)
	assert.Equal(t, events.EventTypeToolStart, got[0].Type)
	assert.Equal(t, events.EventTypeToolEnd, got[1].Type)
	assert.True(t, got[1].OK)
	assert.Contains(t, got[1].Output, "all green")
	assert.Equal(t, events.EventTypeDone, got[2].Type)
	assert.Zero(t, streamer.called)
}

func TestDispatch_TriggerMatchIsCaseInsensitive(t *testing.T) {
	exec := newTestExecutor(t)
	exec.Register("get_system_status", func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})
	triggers := map[string]*config.TriggerConfig{
		"status": {
			Pattern:    `^status$`,
			Intent:     "system_status",
			ActionType: "tool_call",
			ActionData: map[string]any{"tool": "get_system_status"},
		},
	}
	r := New(testConfig(triggers), exec, nil, &fakeStreamer{}, tempo.NewDefaultGauge(), discardLogger())

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r4", Messages: userMessage("STATUS")}))
	require.NotEmpty(t, got)
	assert.Equal(t, events.EventTypeToolStart, got[0].Type)
}

func TestDispatch_UILayerInactiveEmitsStatus(t *testing.T) {
	triggers := map[string]*config.TriggerConfig{
		"emoji_toggle": {
			Pattern:    `^show emoji$`,
			Intent:     "emoji_toggle",
			ActionType: "ui_layer",
			ActionData: map[string]any{"layer": LayerEmoji},
		},
	}
	r := New(testConfig(triggers), newTestExecutor(t), nil, &fakeStreamer{}, tempo.NewDefaultGauge(), discardLogger())
	r.Layers().SetActive(LayerEmoji, false)

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r5", Messages: userMessage("show emoji")}))

	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeSystemStatus, got[0].Type)
	assert.Contains(t, got[0].Message, "inactive")
}

func TestDispatch_UILayerActiveEmitsLayerUpdate(t *testing.T) {
	triggers := map[string]*config.TriggerConfig{
		"emoji_toggle": {
			Pattern:    `^show emoji$`,
			Intent:     "emoji_toggle",
			ActionType: "ui_layer",
			ActionData: map[string]any{"layer": LayerEmoji},
		},
	}
	r := New(testConfig(triggers), newTestExecutor(t), nil, &fakeStreamer{}, tempo.NewDefaultGauge(), discardLogger())

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r6", Messages: userMessage("show emoji")}))

	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeLayerUpdate, got[0].Type)
	assert.Equal(t, LayerEmoji, got[0].Layer)
	assert.True(t, got[0].Active)
}

func TestDispatch_IntentDisablesLayer(t *testing.T) {
	classifier := fixedClassifier{intent: Intent{Kind: "disable_emoji"}}
	r := New(testConfig(nil), newTestExecutor(t), classifier, &fakeStreamer{}, tempo.NewDefaultGauge(), discardLogger())

	got := collect(r.Dispatch(context.Background(), Request{RequestID: "r7", Messages: userMessage("please turn off the emoji overlay now")}))

	require.Len(t, got, 2)
	assert.Equal(t, events.EventTypeLayerUpdate, got[0].Type)
	assert.False(t, got[0].Active)

	state, ok := r.Layers().Get(LayerEmoji)
	require.True(t, ok)
	assert.False(t, state.Active)
}

func TestDispatch_AgentHandoverMultiplexesSystemEvents(t *testing.T) {
	streamer := &fakeStreamer{events: []events.StreamEvent{
		events.Token("", "hello "),
		events.Token("", "world"),
	}}
	r := New(testConfig(nil), newTestExecutor(t), fixedClassifier{intent: Intent{Kind: "prompt"}}, streamer, tempo.NewDefaultGauge(), discardLogger())

	r.PushSystemEvent(events.SystemStatus("r8", "ingestion finished", ""))

	got := collect(r.Dispatch(context.Background(), Request{
		RequestID: "r8",
		Messages:  userMessage("summarize what happened while I was away today"),
	}))

	types := make(map[string]int)
	for _, ev := range got {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[events.EventTypeSystemStatus])
	assert.Equal(t, 2, types[events.EventTypeToken])
	assert.Equal(t, 1, types[events.EventTypeDone])
	assert.Equal(t, events.EventTypeDone, got[len(got)-1].Type)
}

func TestDispatch_TerminatesWithinTimeout(t *testing.T) {
	r := New(testConfig(nil), newTestExecutor(t), nil, &fakeStreamer{}, tempo.NewDefaultGauge(), discardLogger())

	done := make(chan struct{})
	go func() {
		collect(r.Dispatch(context.Background(), Request{RequestID: "r9", Messages: userMessage("hello there")}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not terminate")
	}
}
