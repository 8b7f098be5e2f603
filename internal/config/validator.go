package config

import (
	"fmt"
	"net/url"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the
// first error). Order matters: tasks reference each other via depends_on,
// and triggers/mcp servers/llm providers have no cross-references to tasks,
// so tasks are validated last once the rest is known good.
func (v *Validator) ValidateAll() error {
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateTriggers(); err != nil {
		return fmt.Errorf("trigger validation failed: %w", err)
	}
	if err := v.validateTasks(); err != nil {
		return fmt.Errorf("task validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateMCPServers() error {
	for id, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", id, "transport.type",
				fmt.Errorf("%w: %q", ErrInvalidValue, server.Transport.Type))
		}
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", id, "transport.command", ErrMissingRequiredField)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", id, "transport.url", ErrMissingRequiredField)
			}
			if _, err := url.ParseRequestURI(server.Transport.URL); err != nil {
				return NewValidationError("mcp_server", id, "transport.url", err)
			}
		}
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	providers := v.cfg.LLMProviderRegistry.GetAll()
	if len(providers) == 0 {
		return NewValidationError("llm_provider", "*", "", fmt.Errorf("%w: no LLM providers configured", ErrMissingRequiredField))
	}
	for name, provider := range providers {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("%w: %q", ErrInvalidValue, provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", ErrInvalidValue)
		}
	}
	return nil
}

// validTriggerActions are the action kinds the Nexus dispatch understands;
// "" means the trigger is advisory only.
var validTriggerActions = map[string]bool{
	"": true, "tool_call": true, "control_ui": true, "menu": true,
	"system_prompt": true, "ui_layer": true, "diagnostic": true,
	"macro": true, "switch_mode": true,
}

func (v *Validator) validateTriggers() error {
	for _, trig := range v.cfg.TriggerRegistry.Ordered() {
		if trig.Intent == "" {
			return NewValidationError("trigger", trig.Pattern, "intent", ErrMissingRequiredField)
		}
		if _, err := trig.Compile(); err != nil {
			return NewValidationError("trigger", trig.Pattern, "pattern", err)
		}
		if !validTriggerActions[trig.ActionType] {
			return NewValidationError("trigger", trig.Pattern, "action_type",
				fmt.Errorf("%w: %q", ErrInvalidValue, trig.ActionType))
		}
	}
	return nil
}

func (v *Validator) validateTasks() error {
	tasks := v.cfg.TaskRegistry.GetAll()
	for name, task := range tasks {
		if !task.Kind.IsValid() {
			return NewValidationError("task", name, "kind", fmt.Errorf("%w: %q", ErrInvalidValue, task.Kind))
		}
		if task.Priority != "" && !task.Priority.IsValid() {
			return NewValidationError("task", name, "priority", fmt.Errorf("%w: %q", ErrInvalidValue, task.Priority))
		}
		if (task.Kind == TaskKindPeriodic || task.Kind == TaskKindScheduled) && task.Schedule == "" {
			return NewValidationError("task", name, "schedule", ErrMissingRequiredField)
		}
		for _, dep := range task.DependsOn {
			if dep == name {
				return NewValidationError("task", name, "depends_on", fmt.Errorf("%w: task depends on itself", ErrInvalidValue))
			}
			if _, exists := tasks[dep]; !exists {
				return NewValidationError("task", name, "depends_on", fmt.Errorf("%w: %q", ErrInvalidReference, dep))
			}
		}
		if task.MinTempo != "" && !task.MinTempo.IsValid() {
			return NewValidationError("task", name, "min_tempo", fmt.Errorf("%w: %q", ErrInvalidValue, task.MinTempo))
		}
	}
	return v.validateNoTaskDependencyCycle(tasks)
}

// validateNoTaskDependencyCycle performs a DFS cycle check over depends_on
// edges so the scheduler never deadlocks waiting on a cycle of
// never-satisfiable dependencies.
func (v *Validator) validateNoTaskDependencyCycle(tasks map[string]*TaskConfig) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return NewValidationError("task", name, "depends_on", fmt.Errorf("%w: dependency cycle", ErrInvalidReference))
		}
		state[name] = visiting
		for _, dep := range tasks[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for name := range tasks {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "llm_provider", "", fmt.Errorf("%w: %q", ErrInvalidReference, d.LLMProvider))
	}
	if d.MaxToolSteps != nil && *d.MaxToolSteps < 1 {
		return NewValidationError("defaults", "max_tool_steps", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateSlack() error {
	slack := v.cfg.System.Slack
	if slack == nil || !slack.Enabled {
		return nil
	}
	if slack.Channel == "" {
		return NewValidationError("slack", "channel", "", ErrMissingRequiredField)
	}
	return nil
}
