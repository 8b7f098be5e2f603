package config

import "sync"

// BuiltinConfig holds all built-in configuration data: default tasks, MCP
// servers, LLM providers, and triggers shipped with the binary so the
// orchestrator has sane behavior before any user YAML is written.
type BuiltinConfig struct {
	Tasks        map[string]TaskConfig
	MCPServers   map[string]MCPServerConfig
	LLMProviders map[string]LLMProviderConfig
	Triggers     map[string]TriggerConfig

	DefaultLLMProvider string

	// MaskingPatterns, PatternGroups, and CodeMaskers feed internal/masking,
	// which applies them to MCP tool results before they reach the Agent
	// Engine or chat (see internal/masking.Service).
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
	CodeMaskers     []string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazily initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	trueVal := true
	builtinConfig = &BuiltinConfig{
		DefaultLLMProvider: "router-default",
		LLMProviders: map[string]LLMProviderConfig{
			"router-default": {
				Type:                LLMProviderTypeRouter,
				Model:               "default",
				MaxToolResultTokens: 4000,
				RequestTimeoutSec:   90,
			},
		},
		Tasks: map[string]TaskConfig{
			"retention_cleanup": {
				Kind:        TaskKindPeriodic,
				Priority:    TaskPriorityLow,
				Description: "Soft-deletes episodes and tool call records past their retention window.",
				Schedule:    "*/12 hours",
				MinTempo:    TempoReflective,
			},
			"sentinel_rule_reload": {
				Kind:        TaskKindPeriodic,
				Priority:    TaskPriorityLow,
				Description: "Reloads the sentinel learned-pattern table into memory.",
				Schedule:    "*/30 minutes",
			},
			"mcp_hot_reload_scan": {
				Kind:        TaskKindPeriodic,
				Priority:    TaskPriorityMedium,
				Description: "Rescans tasks.yaml/triggers.yaml/mcp_servers.yaml for changes.",
				Schedule:    "60",
				Enabled:     &trueVal,
			},
			"episode_consolidation": {
				Kind:         TaskKindPeriodic,
				Priority:     TaskPriorityLow,
				Description:  "Extracts facts from unconsolidated episodes and marks them consolidated.",
				Schedule:     "*/15 minutes",
				RequiresIdle: true,
				MinTempo:     TempoReflective,
			},
			"llm_health_probe": {
				Kind:        TaskKindMonitor,
				Priority:    TaskPriorityHigh,
				Description: "Probes the LLM gateway/router and raises a health notification when it is unreachable.",
				Schedule:    "*/5 minutes",
			},
			"fact_confidence_audit": {
				Kind:         TaskKindPeriodic,
				Priority:     TaskPriorityBackground,
				Description:  "Re-checks a batch of facts and applies supported/contradicted confidence deltas.",
				Schedule:     "*/6 hours",
				RequiresIdle: true,
				MinTempo:     TempoDeep,
			},
		},
		Triggers: map[string]TriggerConfig{
			"ingest_now": {
				Pattern:     `(?i)^\s*ingest now\s*$`,
				Intent:      "ingest_now",
				ActionType:  "tool_call",
				ActionData:  map[string]any{"tool": "trigger_ingestion", "args": map[string]any{}},
				Priority:    100,
				Description: "Forces an immediate ingestion pass, bypassing night-shift deferral.",
			},
			"system_status": {
				Pattern:     `(?i)^\s*(status|system status)\s*$`,
				Intent:      "system_status",
				ActionType:  "tool_call",
				ActionData:  map[string]any{"tool": "get_system_status", "args": map[string]any{}},
				Priority:    100,
				Description: "Reports scheduler/circuit-breaker/MCP health.",
			},
		},
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
		CodeMaskers:     []string{"kubernetes_secret"},
	}
}

// initBuiltinMaskingPatterns returns the regex-based masking patterns applied
// to MCP tool results before they reach the Agent Engine or chat.
func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey|key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "[MASKED_PASSWORD]"`,
			Description: "Passwords",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `[MASKED_CERTIFICATE]`,
			Description: "SSL/TLS certificates",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Access tokens",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `[MASKED_EMAIL]`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `[MASKED_SSH_KEY]`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
			Replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			Description: "Private keys",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			Replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			Description: "AWS access keys",
		},
		"github_token": {
			Pattern:     `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`,
			Replacement: `[MASKED_GITHUB_TOKEN]`,
			Description: "GitHub tokens",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `[MASKED_SLACK_TOKEN]`,
			Description: "Slack tokens",
		},
	}
}

// initBuiltinPatternGroups returns predefined groups of masking patterns that
// MCP server configs reference by name in data_masking.pattern_groups.
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":      {"api_key", "password"},
		"secrets":    {"api_key", "password", "token", "private_key"},
		"security":   {"api_key", "password", "token", "certificate", "email", "ssh_key"},
		"kubernetes": {"kubernetes_secret", "api_key", "password"},
		"cloud":      {"aws_access_key", "api_key", "token"},
		"all":        {"api_key", "password", "certificate", "email", "token", "ssh_key", "private_key", "aws_access_key", "github_token", "slack_token"},
	}
}
