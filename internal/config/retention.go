package config

import "time"

// RetentionConfig controls data retention and cleanup behavior for
// ingestion history, tool call records, and episodic memory.
type RetentionConfig struct {
	// EpisodeRetentionDays is how many days to keep episodes before the
	// retention task soft-deletes them.
	EpisodeRetentionDays int `yaml:"episode_retention_days"`

	// ToolCallTTL is the maximum age of tool call records before deletion.
	ToolCallTTL time.Duration `yaml:"tool_call_ttl"`

	// CleanupInterval is how often the retention task runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EpisodeRetentionDays: 365,
		ToolCallTTL:          7 * 24 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}
