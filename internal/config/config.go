package config

// Config is the umbrella configuration object: all registries, resolved
// system settings, and defaults. This is the primary object returned by
// Initialize and threaded through the Service Registry (internal/registry).
type Config struct {
	configDir string

	Defaults *Defaults
	System   *SystemConfig

	TaskRegistry        *TaskRegistry
	TriggerRegistry     *TriggerRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go.

// Stats contains statistics about loaded configuration, logged once at
// startup.
type Stats struct {
	Tasks        int
	Triggers     int
	MCPServers   int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		Tasks:        c.TaskRegistry.Len(),
		Triggers:     c.TriggerRegistry.Len(),
		MCPServers:   c.MCPServerRegistry.Len(),
		LLMProviders: c.LLMProviderRegistry.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetTask retrieves a task configuration by name.
func (c *Config) GetTask(name string) (*TaskConfig, error) {
	return c.TaskRegistry.Get(name)
}

// GetTrigger retrieves a trigger configuration by name.
func (c *Config) GetTrigger(name string) (*TriggerConfig, error) {
	return c.TriggerRegistry.Get(name)
}

// GetMCPServer retrieves an MCP server configuration by ID.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// ResolvedLLMProvider returns the named provider, falling back to
// Defaults.LLMProvider when name is empty.
func (c *Config) ResolvedLLMProvider(name string) (*LLMProviderConfig, error) {
	if name == "" {
		name = c.Defaults.LLMProvider
	}
	return c.LLMProviderRegistry.Get(name)
}
