package config

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// TriggerConfig defines a single Nexus trigger: a regex matched against the
// incoming chat line, mapped to an intent label the Nexus Regulator's intent
// classifier and dispatch table key on.
type TriggerConfig struct {
	// Pattern is a Go regexp (RE2) matched against the raw chat input.
	Pattern string `yaml:"pattern" validate:"required"`

	// Intent is the label dispatched on a match (e.g. "ingest_now", "status").
	Intent string `yaml:"intent" validate:"required"`

	// ActionType selects how the Nexus Regulator reacts to a match:
	// tool_call, control_ui, menu, system_prompt, ui_layer, diagnostic,
	// macro, or switch_mode. Empty means the match is advisory only and
	// dispatch falls through to the intent classifier.
	ActionType string `yaml:"action_type,omitempty"`

	// ActionData carries the action's parameters; shape depends on
	// ActionType (e.g. {tool, args} for tool_call, {layer} for ui_layer).
	ActionData map[string]any `yaml:"action_data,omitempty"`

	// Priority breaks ties when multiple patterns match the same input;
	// higher-priority triggers are tested first.
	Priority int `yaml:"priority,omitempty"`

	// Description documents what this trigger is for.
	Description string `yaml:"description,omitempty"`

	// Source records where this trigger definition came from: "yaml" for
	// triggers.yaml, or the sovereign file path for front-matter-declared
	// triggers. Not read from YAML; set by the loader.
	Source string `yaml:"-"`

	re *regexp.Regexp
}

// Compile parses Pattern into a usable regexp, caching the result.
func (t *TriggerConfig) Compile() (*regexp.Regexp, error) {
	if t.re != nil {
		return t.re, nil
	}
	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return nil, fmt.Errorf("trigger pattern %q: %w", t.Pattern, err)
	}
	t.re = re
	return re, nil
}

// TriggerRegistry stores trigger configurations, pre-sorted by descending
// priority so the Nexus dispatch loop can test them in order and stop at the
// first match.
type TriggerRegistry struct {
	mu       sync.RWMutex
	triggers map[string]*TriggerConfig
	ordered  []string // names, sorted by descending Priority
}

// NewTriggerRegistry creates a new trigger registry.
func NewTriggerRegistry(triggers map[string]*TriggerConfig) *TriggerRegistry {
	r := &TriggerRegistry{}
	r.Replace(triggers)
	return r
}

// Replace atomically swaps the registry's contents and recomputes priority
// ordering, used both at load time and by hot-reload.
func (r *TriggerRegistry) Replace(triggers map[string]*TriggerConfig) {
	copied := make(map[string]*TriggerConfig, len(triggers))
	ordered := make([]string, 0, len(triggers))
	for k, v := range triggers {
		copied[k] = v
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if copied[ordered[i]].Priority != copied[ordered[j]].Priority {
			return copied[ordered[i]].Priority > copied[ordered[j]].Priority
		}
		return ordered[i] < ordered[j]
	})

	r.mu.Lock()
	r.triggers = copied
	r.ordered = ordered
	r.mu.Unlock()
}

// Get retrieves a trigger configuration by name (thread-safe).
func (r *TriggerRegistry) Get(name string) (*TriggerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trig, exists := r.triggers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}
	return trig, nil
}

// Ordered returns all triggers sorted by descending priority (thread-safe,
// returns a copy of the slice — the pointed-to configs are shared but
// immutable after load).
func (r *TriggerRegistry) Ordered() []*TriggerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TriggerConfig, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.triggers[name])
	}
	return out
}

// Len returns the number of triggers in the registry (thread-safe).
func (r *TriggerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers)
}
