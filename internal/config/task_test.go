package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRegistry_GetAndReplace(t *testing.T) {
	reg := NewTaskRegistry(map[string]*TaskConfig{
		"a": {Kind: TaskKindPeriodic, Schedule: "60"},
	})
	require.True(t, reg.Has("a"))
	require.False(t, reg.Has("b"))

	task, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, TaskKindPeriodic, task.Kind)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	reg.Replace(map[string]*TaskConfig{
		"b": {Kind: TaskKindOneShot},
	})
	assert.False(t, reg.Has("a"))
	assert.True(t, reg.Has("b"))
}

func TestTempo_AtLeast(t *testing.T) {
	cases := []struct {
		name string
		t    Tempo
		min  Tempo
		want bool
	}{
		{"focused vs reflective", TempoFocused, TempoReflective, false},
		{"reflective vs reflective", TempoReflective, TempoReflective, true},
		{"deep vs reflective", TempoDeep, TempoReflective, true},
		{"alert vs focused", TempoAlert, TempoFocused, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.t.AtLeast(tc.min))
		})
	}
}

func TestTaskPriority_Less(t *testing.T) {
	assert.True(t, TaskPriorityCritical.Less(TaskPriorityHigh))
	assert.True(t, TaskPriorityHigh.Less(TaskPriorityMedium))
	assert.False(t, TaskPriorityLow.Less(TaskPriorityCritical))
}

func TestValidator_DetectsDependencyCycle(t *testing.T) {
	cfg := &Config{
		Defaults: &Defaults{},
		System:   &SystemConfig{},
		TaskRegistry: NewTaskRegistry(map[string]*TaskConfig{
			"a": {Kind: TaskKindOneShot, DependsOn: []string{"b"}},
			"b": {Kind: TaskKindOneShot, DependsOn: []string{"a"}},
		}),
		TriggerRegistry:     NewTriggerRegistry(nil),
		MCPServerRegistry:   NewMCPServerRegistry(nil),
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{"x": {Type: LLMProviderTypeRouter, Model: "m", MaxToolResultTokens: 1000}}),
	}
	err := NewValidator(cfg).validateTasks()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}
