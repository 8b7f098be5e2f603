package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTasks_UserOverridesKeepUnsetBuiltinFields(t *testing.T) {
	builtin := map[string]TaskConfig{
		"episode_consolidation": {
			Kind:     TaskKindPeriodic,
			Priority: TaskPriorityLow,
			Schedule: "*/15 minutes",
			MinTempo: TempoReflective,
		},
	}
	user := map[string]TaskConfig{
		"episode_consolidation": {Schedule: "*/5 minutes"},
		"my_custom_task":        {Kind: TaskKindOneShot, Schedule: "30"},
	}

	merged := mergeTasks(builtin, user)
	require.Len(t, merged, 2)

	overridden := merged["episode_consolidation"]
	assert.Equal(t, "*/5 minutes", overridden.Schedule)
	assert.Equal(t, TaskKindPeriodic, overridden.Kind, "unset user fields fall back to built-in")
	assert.Equal(t, TaskPriorityLow, overridden.Priority)
	assert.Equal(t, TempoReflective, overridden.MinTempo)

	custom := merged["my_custom_task"]
	assert.Equal(t, TaskKindOneShot, custom.Kind)
}

func TestMergeTriggers_UserWinsOverBuiltin(t *testing.T) {
	builtin := map[string]TriggerConfig{
		"system_status": {Pattern: `^status$`, Intent: "system_status", Priority: 100},
	}
	user := map[string]TriggerConfig{
		"system_status": {Pattern: `^(status|health)$`, Intent: "system_status", Priority: 50},
	}

	merged := mergeTriggers(builtin, user)
	require.Len(t, merged, 1)
	assert.Equal(t, `^(status|health)$`, merged["system_status"].Pattern)
	assert.Equal(t, 50, merged["system_status"].Priority)
}

func TestMergeSovereignTriggers_LosesTiesToYAML(t *testing.T) {
	merged := map[string]*TriggerConfig{
		"status": {Pattern: `^status$`, Intent: "system_status"},
	}
	sovereign := map[string]TriggerConfig{
		"status":    {Pattern: `^state$`, Intent: "other"},
		"show_refs": {Pattern: `^refs$`, Intent: "show_refs", Source: "/brain/refs.md"},
	}

	mergeSovereignTriggers(merged, sovereign)
	require.Len(t, merged, 2)
	assert.Equal(t, `^status$`, merged["status"].Pattern, "YAML is authoritative on collision")
	assert.Equal(t, "/brain/refs.md", merged["show_refs"].Source)
}

func TestValidateTriggers_RejectsUnknownActionType(t *testing.T) {
	cfg := &Config{
		TriggerRegistry: NewTriggerRegistry(map[string]*TriggerConfig{
			"bad": {Pattern: `^x$`, Intent: "x", ActionType: "teleport"},
		}),
	}
	v := &Validator{cfg: cfg}
	assert.Error(t, v.validateTriggers())
}
