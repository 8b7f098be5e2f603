package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// CoreToolNames are never filtered out of the tool list even when their
// rating marks them deprecated.
var CoreToolNames = map[string]bool{
	"get_system_status": true,
	"store_fact":        true,
	"query_facts":       true,
	"ask_antigravity":   true,
}

// ToolRatings is the slice of pkg/memory the engine needs for deprecation
// filtering, kept narrow so tests can fake it without a database.
type ToolRatings interface {
	DeprecatedTools(ctx context.Context) (map[string]bool, error)
}

// deprecationCache caches the deprecated-tool set for a short TTL so the
// per-iteration tool ranking doesn't hit the database every loop step.
type deprecationCache struct {
	ratings ToolRatings

	mu      sync.Mutex
	set     map[string]bool
	fetched time.Time
}

const deprecationTTL = 60 * time.Second

func newDeprecationCache(ratings ToolRatings) *deprecationCache {
	return &deprecationCache{ratings: ratings}
}

// deprecated returns the current deprecated-tool set, refreshing on TTL
// expiry. Fails open: a lookup error yields the previous (possibly empty)
// set rather than blocking tool selection.
func (c *deprecationCache) deprecated(ctx context.Context) map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ratings == nil {
		return nil
	}
	if c.set != nil && time.Since(c.fetched) < deprecationTTL {
		return c.set
	}
	set, err := c.ratings.DeprecatedTools(ctx)
	if err != nil {
		return c.set
	}
	c.set = set
	c.fetched = time.Now()
	return c.set
}

// schemaToMap converts an MCP tool's input schema (any JSON-marshalable
// value) into the plain map the completions wire format wants.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}
