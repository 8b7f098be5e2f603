package mcptransport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// RecoveryAction determines how a failed MCP operation should be handled.
type RecoveryAction int

const (
	// NoRetry means the error is not recoverable (bad request, validation,
	// or a clean timeout).
	NoRetry RecoveryAction = iota
	// RetryNewSession means a transport-level failure occurred; the server's
	// session must be torn down and recreated before retrying.
	RetryNewSession
)

// Handshake and call timeouts.
const (
	// HandshakeTimeoutCore is the deadline for initialize + tools/list
	// against a core-service MCP server.
	HandshakeTimeoutCore = 20 * time.Second
	// HandshakeTimeoutNonCore is the deadline for non-core servers.
	HandshakeTimeoutNonCore = 15 * time.Second
	// CallTimeout is the default per-call timeout for tools/call.
	CallTimeout = 60 * time.Second
	// ReinitTimeout bounds session recreation during crash recovery.
	ReinitTimeout = 15 * time.Second
	// PerServerLockTimeout bounds acquisition of a server's spawn lock.
	PerServerLockTimeout = 10 * time.Second
	// CoreRecoveryProbeInterval re-probes a tripped core server's breaker
	// while it is open.
	CoreRecoveryProbeInterval = 15 * time.Second
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	if isMCPProtocolError(err) {
		return NoRetry
	}

	return NoRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, e := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

func isMCPProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest, jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
