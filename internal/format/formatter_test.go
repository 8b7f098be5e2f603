package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolOutput_UnwrapsSingleKeyWrapper(t *testing.T) {
	out := ToolOutput(map[string]any{"result": "plain text"})
	assert.Equal(t, "plain text", out)
}

func TestToolOutput_EmptyList(t *testing.T) {
	assert.Equal(t, "_Empty List_", ToolOutput([]any{}))
}

func TestToolOutput_ListOfScalarsBullets(t *testing.T) {
	out := ToolOutput([]any{"a", "b"})
	assert.Equal(t, "- a\n- b", out)
}

func TestToolOutput_ListOfMapsRendersTable(t *testing.T) {
	out := ToolOutput([]any{
		map[string]any{"name": "foo", "count": float64(1)},
		map[string]any{"name": "bar", "count": float64(2)},
	})
	assert.Contains(t, out, "| count | name |")
	assert.Contains(t, out, "| 1 | foo |")
}

func TestToolOutput_MermaidFence(t *testing.T) {
	out := ToolOutput("graph TD; A-->B")
	assert.Equal(t, "```mermaid\ngraph TD; A-->B\n```", out)
}

func TestToolOutput_ErrorMap(t *testing.T) {
	out := ToolOutput(map[string]any{"error": "boom"})
	assert.Equal(t, "**Error:** boom", out)
}

func TestToolOutput_JSONStringSniff(t *testing.T) {
	out := ToolOutput(`{"result": "unwrapped"}`)
	assert.Equal(t, "unwrapped", out)
}
