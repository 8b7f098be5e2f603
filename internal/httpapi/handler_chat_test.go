package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delgross/ai-orchestrator-sub002/internal/budget"
	"github.com/delgross/ai-orchestrator-sub002/internal/config"
	"github.com/delgross/ai-orchestrator-sub002/internal/tempo"
	"github.com/delgross/ai-orchestrator-sub002/pkg/nexus"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func newTestAPIServer(t *testing.T, triggers map[string]*config.TriggerConfig) (*Server, *toolexec.Executor) {
	t.Helper()
	cfg := &config.Config{
		Defaults:        &config.Defaults{LLMProvider: "router-default"},
		System:          &config.SystemConfig{},
		TriggerRegistry: config.NewTriggerRegistry(triggers),
	}
	executor := toolexec.New(nil, nil, nil, discardLogger())
	regulator := nexus.New(cfg, executor, nil, nil, tempo.NewDefaultGauge(), discardLogger())
	return NewServer(cfg, nil, regulator, budget.NewTracker(), discardLogger()), executor
}

func postCompletion(t *testing.T, s *Server, body string, headers map[string]string) (*httptest.ResponseRecorder, ChatCompletionResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var resp ChatCompletionResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestChatCompletions_TrivialGreetingShortCircuit(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)

	rec, resp := postCompletion(t, s, `{"messages":[{"role":"user","content":"hi"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, nexus.FixedGreeting, resp.Choices[0].Message.Content)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
}

func TestChatCompletions_TriggerOutputInCompletion(t *testing.T) {
	triggers := map[string]*config.TriggerConfig{
		"status": {
			Pattern:    `^status$`,
			Intent:     "system_status",
			ActionType: "tool_call",
			ActionData: map[string]any{"tool": "get_system_status", "args": map[string]any{}},
		},
	}
	s, executor := newTestAPIServer(t, triggers)
	executor.Register("get_system_status", func(context.Context, map[string]any) (any, error) {
		return "everything nominal", nil
	})

	rec, resp := postCompletion(t, s, `{"messages":[{"role":"user","content":"status"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Choices, 1)
	assert.Contains(t, resp.Choices[0].Message.Content, "everything nominal")
}

func TestChatCompletions_HonorsRequestIDHeader(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)

	rec, resp := postCompletion(t, s, `{"messages":[{"role":"user","content":"hello"}]}`,
		map[string]string{"X-Request-ID": "my-req-42"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chatcmpl-my-req-42", resp.ID)
	assert.Equal(t, "my-req-42", rec.Header().Get("X-Request-ID"))
}

func TestChatCompletions_SynthesizesEightHexRequestID(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)

	rec, _ := postCompletion(t, s, `{"messages":[{"role":"user","content":"hello"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Request-ID")
	require.Len(t, id, 8)
	for _, ch := range id {
		assert.Contains(t, "0123456789abcdef", string(ch))
	}
}

func TestChatCompletions_EmptyMessagesRejected(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)

	rec, _ := postCompletion(t, s, `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReturnsUptimeAndStatus(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.GreaterOrEqual(t, resp.UptimeS, int64(0))
}

func TestAdmin_RequiresPasswordWhenConfigured(t *testing.T) {
	s, _ := newTestAPIServer(t, nil)
	s.SetAdminPassword("sekret")

	req := httptest.NewRequest(http.MethodGet, "/admin/system-status", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/system-status", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
