package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delgross/ai-orchestrator-sub002/internal/apierrors"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/toolexec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type staticTools struct {
	defs []agent.ToolDefinition
}

func (s staticTools) GetAllTools(context.Context) []agent.ToolDefinition { return s.defs }

type staticResources map[string]string

func (s staticResources) AllSovereignContents(context.Context) (map[string]string, error) {
	return s, nil
}

func newTestServer(t *testing.T, interceptors []Interceptor) (*Server, *toolexec.Executor) {
	t.Helper()
	executor := toolexec.New(nil, nil, nil, discardLogger())
	tools := staticTools{defs: []agent.ToolDefinition{
		{Type: "function", Function: agent.ToolFunction{Name: "get_system_status", Description: "status"}},
	}}
	resources := staticResources{"notes": "# Notes\ncontent"}
	ask := func(_ context.Context, query, _ string) (string, error) { return "asked: " + query, nil }
	return New(executor, tools, resources, ask, interceptors, "", discardLogger()), executor
}

func newSession(name string) *session {
	return &session{id: "s1", clientName: name, queue: make(chan rpcResponse, 8), done: make(chan struct{})}
}

func rawID(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestInitialize_RecordsClientAndReturnsProtocol(t *testing.T) {
	s, _ := newTestServer(t, nil)
	sess := newSession("")

	resp := s.handleInitialize(context.Background(), sess, rpcRequest{
		JSONRPC: "2.0", ID: rawID(t, 1), Method: "initialize",
		Params: json.RawMessage(`{"clientInfo":{"name":"bob"}}`),
	})
	require.NotNil(t, resp)
	assert.Equal(t, "bob", sess.clientName)

	result := resp.Result.(map[string]any)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestToolsList_IncludesAskAntigravity(t *testing.T) {
	s, _ := newTestServer(t, nil)

	resp := s.handleToolsList(context.Background(), newSession("bob"), rpcRequest{ID: rawID(t, 2)})
	require.NotNil(t, resp)

	tools := resp.Result.(map[string]any)["tools"].([]map[string]any)
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool["name"].(string)] = true
	}
	assert.True(t, names["get_system_status"])
	assert.True(t, names["ask_antigravity"])
}

func TestToolsCall_RunsInterceptorStackInOrder(t *testing.T) {
	interceptors := []Interceptor{
		&LoggingInterceptor{Logger: discardLogger()},
		&WriteOwnInterceptor{},
	}
	s, executor := newTestServer(t, interceptors)

	var seenKB string
	executor.Register("store_fact", func(_ context.Context, args map[string]any) (any, error) {
		seenKB, _ = args["kb_id"].(string)
		return map[string]any{"id": 1}, nil
	})

	resp := s.handleToolsCall(context.Background(), newSession("bob"), rpcRequest{
		ID:     rawID(t, 3),
		Params: json.RawMessage(`{"name":"store_fact","arguments":{"kb_id":"alice","entity":"e","relation":"r","target":"t"}}`),
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, "bob", seenKB, "write-own must pin kb_id to the caller")
}

func TestToolsCall_PrivacyDenialMapsToMinus32003(t *testing.T) {
	loader := &fakeBankLoader{isPrivate: true, owner: "alice"}
	s, executor := newTestServer(t, []Interceptor{NewPrivacyInterceptor(loader)})

	called := false
	executor.Register("query_facts", func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	resp := s.handleToolsCall(context.Background(), newSession("bob"), rpcRequest{
		ID:     rawID(t, 4),
		Params: json.RawMessage(`{"name":"query_facts","arguments":{"kb_id":"k_alice"}}`),
	})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apierrors.RPCCodePermissionDenied, resp.Error.Code)
	assert.False(t, called, "a denied call must never reach the executor")
}

func TestToolsCall_AskAntigravityDelegates(t *testing.T) {
	s, _ := newTestServer(t, nil)

	resp := s.handleToolsCall(context.Background(), newSession("bob"), rpcRequest{
		ID:     rawID(t, 5),
		Params: json.RawMessage(`{"name":"ask_antigravity","arguments":{"query":"what changed?"}}`),
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	content := resp.Result.(map[string]any)["content"].([]map[string]any)
	require.Len(t, content, 1)
	assert.Equal(t, "asked: what changed?", content[0]["text"])
}

func TestResourcesReadAndList(t *testing.T) {
	s, _ := newTestServer(t, nil)
	sess := newSession("bob")

	listResp := s.handleResourcesList(context.Background(), sess, rpcRequest{ID: rawID(t, 6)})
	require.NotNil(t, listResp)
	resources := listResp.Result.(map[string]any)["resources"].([]map[string]any)
	require.Len(t, resources, 1)
	assert.Equal(t, "memory://notes", resources[0]["uri"])

	readResp := s.handleResourcesRead(context.Background(), sess, rpcRequest{
		ID:     rawID(t, 7),
		Params: json.RawMessage(`{"uri":"memory://notes"}`),
	})
	require.NotNil(t, readResp)
	require.Nil(t, readResp.Error)
	contents := readResp.Result.(map[string]any)["contents"].([]map[string]any)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0]["text"], "# Notes")
}

func TestPingAndDebugSession(t *testing.T) {
	s, _ := newTestServer(t, nil)
	sess := newSession("bob")

	ping := s.handlePing(context.Background(), sess, rpcRequest{ID: rawID(t, 8)})
	require.NotNil(t, ping)
	assert.Nil(t, ping.Error)

	dbg := s.handleDebugSession(context.Background(), sess, rpcRequest{ID: rawID(t, 9)})
	require.NotNil(t, dbg)
	info := dbg.Result.(map[string]any)
	assert.Equal(t, "bob", info["client"])
}

func TestUnknownMethodPushesMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	sess := newSession("bob")

	s.process(sess, rpcRequest{JSONRPC: "2.0", ID: rawID(t, 10), Method: "bogus/method"})

	resp := <-sess.queue
	require.NotNil(t, resp.Error)
	assert.Equal(t, apierrors.RPCCodeMethodNotFound, resp.Error.Code)
}

func TestToolResultEnvelope_ErrorShape(t *testing.T) {
	env := toolResultEnvelope(toolexec.Result{OK: false, Error: "boom"})
	assert.Equal(t, true, env["isError"])

	env = toolResultEnvelope(toolexec.Result{OK: true, Result: "fine"})
	_, hasErr := env["isError"]
	assert.False(t, hasErr)
}
