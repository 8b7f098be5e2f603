package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/apierrors"
)

// CallContext is the mutable view of a tools/call an interceptor sees. Args
// may be rewritten in place (the Write-Own interceptor does).
type CallContext struct {
	Client string
	Tool   string
	Args   map[string]any
}

// Interceptor inspects or mutates a tools/call before execution. Returning
// an error wrapping apierrors.ErrPermissionDenied maps to JSON-RPC −32003.
type Interceptor interface {
	Name() string
	Before(ctx context.Context, call *CallContext) error
}

// writeTools are the mutation tools Write-Own pins to the caller's own
// knowledge base.
var writeTools = map[string]bool{
	"store_fact":  true,
	"ingest_file": true,
	"delete_fact": true,
	"update_fact": true,
}

// readTools are the retrieval tools Privacy guards.
var readTools = map[string]bool{
	"query_facts":     true,
	"semantic_search": true,
}

// LoggingInterceptor records (client, tool, arg preview) at info level.
type LoggingInterceptor struct {
	Logger *slog.Logger
}

func (i *LoggingInterceptor) Name() string { return "logging" }

func (i *LoggingInterceptor) Before(_ context.Context, call *CallContext) error {
	preview := fmt.Sprintf("%v", call.Args)
	if len(preview) > 200 {
		preview = preview[:200] + "…"
	}
	i.Logger.Info("mcp tool call", "client", call.Client, "tool", call.Tool, "args", preview)
	return nil
}

// WriteOwnInterceptor forces kb_id to the authenticated client's own name on
// write tools, regardless of the argument supplied.
type WriteOwnInterceptor struct{}

func (i *WriteOwnInterceptor) Name() string { return "write-own" }

func (i *WriteOwnInterceptor) Before(_ context.Context, call *CallContext) error {
	if !writeTools[call.Tool] {
		return nil
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	call.Args["kb_id"] = call.Client
	return nil
}

// BankConfigLoader resolves a knowledge bank's privacy settings.
type BankConfigLoader interface {
	BankConfig(ctx context.Context, kbID string) (isPrivate bool, owner string, err error)
}

// PrivacyInterceptor denies reads of a private bank by anyone but its owner,
// caching decisions for 60 seconds.
type PrivacyInterceptor struct {
	Loader BankConfigLoader

	mu    sync.Mutex
	cache map[string]privacyDecision
}

type privacyDecision struct {
	allowed bool
	at      time.Time
}

const privacyCacheTTL = 60 * time.Second

// NewPrivacyInterceptor builds a PrivacyInterceptor over loader.
func NewPrivacyInterceptor(loader BankConfigLoader) *PrivacyInterceptor {
	return &PrivacyInterceptor{Loader: loader, cache: make(map[string]privacyDecision)}
}

func (i *PrivacyInterceptor) Name() string { return "privacy" }

func (i *PrivacyInterceptor) Before(ctx context.Context, call *CallContext) error {
	kbID := ""
	switch {
	case readTools[call.Tool]:
		kbID, _ = call.Args["kb_id"].(string)
	case call.Tool == "read_resource":
		uri, _ := call.Args["uri"].(string)
		if rest, ok := strings.CutPrefix(uri, "memory://"); ok {
			kbID = rest
		}
	}
	if kbID == "" {
		return nil
	}
	if !i.allowed(ctx, call.Client, kbID) {
		return fmt.Errorf("%w: bank %q is private", apierrors.ErrPermissionDenied, kbID)
	}
	return nil
}

func (i *PrivacyInterceptor) allowed(ctx context.Context, client, kbID string) bool {
	key := client + "\x00" + kbID

	i.mu.Lock()
	if d, ok := i.cache[key]; ok && time.Since(d.at) < privacyCacheTTL {
		i.mu.Unlock()
		return d.allowed
	}
	i.mu.Unlock()

	allowed := true
	if i.Loader != nil {
		isPrivate, owner, err := i.Loader.BankConfig(ctx, kbID)
		if err == nil && isPrivate && owner != client {
			allowed = false
		}
	}

	i.mu.Lock()
	i.cache[key] = privacyDecision{allowed: allowed, at: time.Now()}
	i.mu.Unlock()
	return allowed
}
