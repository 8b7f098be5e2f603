package config

import "dario.cat/mergo"

// mergeTasks merges built-in and user-defined task configurations. A
// user-defined task overriding a built-in of the same name keeps the
// built-in's values for any field the user left unset, so tasks.yaml can
// override just `schedule:` without restating kind/priority.
func mergeTasks(builtinTasks map[string]TaskConfig, userTasks map[string]TaskConfig) map[string]*TaskConfig {
	result := make(map[string]*TaskConfig, len(builtinTasks)+len(userTasks))

	for name, task := range builtinTasks {
		taskCopy := task
		result[name] = &taskCopy
	}
	for name, task := range userTasks {
		taskCopy := task
		if builtin, ok := builtinTasks[name]; ok {
			_ = mergo.Merge(&taskCopy, builtin)
		}
		result[name] = &taskCopy
	}
	return result
}

// mergeMCPServers merges built-in and user-defined MCP server
// configurations, with the same unset-fields-fall-back-to-built-in rule as
// mergeTasks.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig, len(builtinServers)+len(userServers))

	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}
	for id, server := range userServers {
		serverCopy := server
		if builtin, ok := builtinServers[id]; ok {
			_ = mergo.Merge(&serverCopy, builtin)
		}
		result[id] = &serverCopy
	}
	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtinProviders)+len(userProviders))

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}
	for name, provider := range userProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}
	return result
}

// mergeTriggers merges built-in and user-defined triggers, then the
// sovereign-file-declared triggers on top (YAML wins ties — see
// mergeSovereignTriggers in sovereign.go).
func mergeTriggers(builtinTriggers map[string]TriggerConfig, userTriggers map[string]TriggerConfig) map[string]*TriggerConfig {
	result := make(map[string]*TriggerConfig, len(builtinTriggers)+len(userTriggers))

	for name, trig := range builtinTriggers {
		trigCopy := trig
		result[name] = &trigCopy
	}
	for name, trig := range userTriggers {
		trigCopy := trig
		trigCopy.Source = "yaml"
		result[name] = &trigCopy
	}
	return result
}
