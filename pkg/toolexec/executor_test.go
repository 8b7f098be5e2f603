package toolexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
	return New(nil, nil, nil, logger)
}

func TestParseCall_InternalByDefault(t *testing.T) {
	call := ParseCall("id-1", "get_system_status", map[string]any{})
	assert.Equal(t, KindInternal, call.Kind)
	assert.Equal(t, "get_system_status", call.Internal.Tool)
}

func TestParseCall_MCPPrefix(t *testing.T) {
	call := ParseCall("id-2", "mcp__filesystem__read_file", map[string]any{"path": "/tmp/x"})
	assert.Equal(t, KindMCP, call.Kind)
	assert.Equal(t, "filesystem", call.MCP.Server)
	assert.Equal(t, "read_file", call.MCP.Tool)
}

func TestParseCall_MalformedMCPNameFallsBackToInternal(t *testing.T) {
	call := ParseCall("id-3", "mcp__onlyserver", map[string]any{})
	assert.Equal(t, KindInternal, call.Kind)
}

func TestExecute_InternalToolSuccess(t *testing.T) {
	e := newTestExecutor()
	e.Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	})

	res := e.Execute(context.Background(), ParseCall("1", "echo", map[string]any{"msg": "hi"}))
	assert.True(t, res.OK)
	assert.Equal(t, "hi", res.Result)
	assert.Equal(t, "echo", res.Tool)
}

func TestExecute_UnknownInternalTool(t *testing.T) {
	e := newTestExecutor()
	res := e.Execute(context.Background(), ParseCall("1", "does_not_exist", nil))
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestExecute_InternalToolRetriesThenSucceeds(t *testing.T) {
	e := newTestExecutor()
	var attempts atomic.Int32
	e.Register("flaky", func(_ context.Context, _ map[string]any) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	res := e.Execute(context.Background(), ParseCall("1", "flaky", nil))
	assert.True(t, res.OK)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestExecute_InternalToolExhaustsRetries(t *testing.T) {
	e := newTestExecutor()
	var attempts atomic.Int32
	e.Register("always_fails", func(_ context.Context, _ map[string]any) (any, error) {
		attempts.Add(1)
		return nil, errors.New("permanent")
	})

	res := e.Execute(context.Background(), ParseCall("1", "always_fails", nil))
	assert.False(t, res.OK)
	assert.Equal(t, "permanent", res.Error)
	assert.Equal(t, int32(retryAttempts), attempts.Load())
}

func TestExecute_ContextCancelledDuringBackoffAborts(t *testing.T) {
	e := newTestExecutor()
	e.Register("flaky", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, ParseCall("1", "flaky", nil))
	require.False(t, res.OK)
}

func TestTools_ListsRegisteredNames(t *testing.T) {
	e := newTestExecutor()
	e.Register("a", func(context.Context, map[string]any) (any, error) { return nil, nil })
	e.Register("b", func(context.Context, map[string]any) (any, error) { return nil, nil })

	names := e.Tools()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
