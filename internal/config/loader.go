package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OrchestratorYAMLConfig represents the complete orchestrator.yaml file structure.
type OrchestratorYAMLConfig struct {
	System       *SystemYAMLConfig            `yaml:"system"`
	Defaults     *Defaults                    `yaml:"defaults"`
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// MCPServersYAMLConfig represents the complete mcp_servers.yaml file structure.
type MCPServersYAMLConfig struct {
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// TasksYAMLConfig represents the complete tasks.yaml file structure.
// This file is hot-reloadable: pkg/scheduler's reload task re-reads it
// (and mcp_servers.yaml and triggers.yaml) on a ~60s poll.
type TasksYAMLConfig struct {
	Tasks map[string]TaskConfig `yaml:"tasks"`
}

// TriggersYAMLConfig represents the complete triggers.yaml file structure.
type TriggersYAMLConfig struct {
	Triggers map[string]TriggerConfig `yaml:"triggers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations, then sovereign-file triggers
//  5. Build in-memory registries
//  6. Resolve defaults and system config
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"tasks", stats.Tasks,
		"triggers", stats.Triggers,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	orchCfg, err := loader.loadOrchestratorYAML()
	if err != nil {
		return nil, NewLoadError("orchestrator.yaml", err)
	}
	mcpServers, err := loader.loadMCPServersYAML()
	if err != nil {
		return nil, NewLoadError("mcp_servers.yaml", err)
	}
	tasks, err := loader.loadTasksYAML()
	if err != nil {
		return nil, NewLoadError("tasks.yaml", err)
	}
	triggers, err := loader.loadTriggersYAML()
	if err != nil {
		return nil, NewLoadError("triggers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	mergedTasks := mergeTasks(builtin.Tasks, tasks)
	mergedMCPServers := mergeMCPServers(builtin.MCPServers, mcpServers)
	mergedTriggers := mergeTriggers(builtin.Triggers, triggers)
	mergedLLMProviders := mergeLLMProviders(builtin.LLMProviders, orchCfg.LLMProviders)

	// Apply MCP server defaults before validation.
	for _, server := range mergedMCPServers {
		if server.Summarization != nil && server.Summarization.Enabled && server.Summarization.SizeThresholdTokens == 0 {
			server.Summarization.SizeThresholdTokens = DefaultSizeThresholdTokens
		}
	}

	defaults := orchCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = builtin.DefaultLLMProvider
	}
	if defaults.MaxToolSteps == nil {
		n := DefaultMaxToolSteps
		defaults.MaxToolSteps = &n
	}
	if defaults.Retry == nil {
		defaults.Retry = DefaultRetryPolicy()
	}
	if defaults.MinTempo == "" {
		defaults.MinTempo = TempoFocused
	}

	sysCfg := resolveSystemConfig(orchCfg.System, os.LookupEnv)

	// Sovereign-file trigger bootstrap: layered under YAML+built-in, losing
	// ties on pattern-name collision (triggers.yaml wins).
	mergeSovereignTriggers(mergedTriggers, loadSovereignTriggers(sysCfg.BrainDir))

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		System:              sysCfg,
		TaskRegistry:        NewTaskRegistry(mergedTasks),
		TriggerRegistry:     NewTriggerRegistry(mergedTriggers),
		MCPServerRegistry:   NewMCPServerRegistry(mergedMCPServers),
		LLMProviderRegistry: NewLLMProviderRegistry(mergedLLMProviders),
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// Reload re-reads tasks.yaml, mcp_servers.yaml, and triggers.yaml and
// atomically swaps the given Config's registries. Used by the scheduler's
// hot-reload task. orchestrator.yaml (system/defaults) is not
// hot-reloaded — it only takes effect on restart.
func Reload(cfg *Config) error {
	loader := &configLoader{configDir: cfg.configDir}

	tasks, err := loader.loadTasksYAML()
	if err != nil {
		return NewLoadError("tasks.yaml", err)
	}
	mcpServers, err := loader.loadMCPServersYAML()
	if err != nil {
		return NewLoadError("mcp_servers.yaml", err)
	}
	triggers, err := loader.loadTriggersYAML()
	if err != nil {
		return NewLoadError("triggers.yaml", err)
	}

	builtin := GetBuiltinConfig()
	mergedTasks := mergeTasks(builtin.Tasks, tasks)
	mergedTriggers := mergeTriggers(builtin.Triggers, triggers)
	mergeSovereignTriggers(mergedTriggers, loadSovereignTriggers(cfg.System.BrainDir))

	taskPtrs := make(map[string]*TaskConfig, len(mergedTasks))
	for k, v := range mergedTasks {
		taskPtrs[k] = v
	}
	triggerPtrs := make(map[string]*TriggerConfig, len(mergedTriggers))
	for k, v := range mergedTriggers {
		triggerPtrs[k] = v
	}

	cfg.TaskRegistry.Replace(taskPtrs)
	cfg.TriggerRegistry.Replace(triggerPtrs)
	cfg.MCPServerRegistry = NewMCPServerRegistry(mergeMCPServers(builtin.MCPServers, mcpServers))
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// loadOptionalYAML is like loadYAML but treats a missing file as "nothing
// configured" rather than an error — user config files for this system are
// all optional since every concern has a built-in default.
func (l *configLoader) loadOptionalYAML(filename string, target any) error {
	err := l.loadYAML(filename, target)
	if err != nil && errors.Is(err, ErrConfigNotFound) {
		return nil
	}
	return err
}

func (l *configLoader) loadOrchestratorYAML() (*OrchestratorYAMLConfig, error) {
	var cfg OrchestratorYAMLConfig
	if err := l.loadOptionalYAML("orchestrator.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadMCPServersYAML() (map[string]MCPServerConfig, error) {
	var cfg MCPServersYAMLConfig
	cfg.MCPServers = make(map[string]MCPServerConfig)
	if err := l.loadOptionalYAML("mcp_servers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.MCPServers, nil
}

func (l *configLoader) loadTasksYAML() (map[string]TaskConfig, error) {
	var cfg TasksYAMLConfig
	cfg.Tasks = make(map[string]TaskConfig)
	if err := l.loadOptionalYAML("tasks.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.Tasks, nil
}

func (l *configLoader) loadTriggersYAML() (map[string]TriggerConfig, error) {
	var cfg TriggersYAMLConfig
	cfg.Triggers = make(map[string]TriggerConfig)
	if err := l.loadOptionalYAML("triggers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.Triggers, nil
}

// DefaultSizeThresholdTokens is applied to a server's Summarization config
// when enabled but the threshold was left unset.
const DefaultSizeThresholdTokens = 2000
