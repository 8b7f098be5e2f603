package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RecordAccumulatesAcrossCalls(t *testing.T) {
	tr := NewTracker()
	tr.Record("req-1", Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	tr.Record("req-1", Usage{PromptTokens: 150, CompletionTokens: 40, TotalTokens: 190})

	got := tr.Usage("req-1")
	assert.Equal(t, Usage{PromptTokens: 250, CompletionTokens: 60, TotalTokens: 310}, got)
}

func TestTracker_IsolatesByRequestID(t *testing.T) {
	tr := NewTracker()
	tr.Record("req-a", Usage{TotalTokens: 10})
	tr.Record("req-b", Usage{TotalTokens: 99})

	assert.Equal(t, 10, tr.Usage("req-a").TotalTokens)
	assert.Equal(t, 99, tr.Usage("req-b").TotalTokens)
}

func TestTracker_FinishDeletesEntry(t *testing.T) {
	tr := NewTracker()
	tr.Record("req-1", Usage{TotalTokens: 50})

	got := tr.Finish("req-1")
	assert.Equal(t, 50, got.TotalTokens)
	assert.Equal(t, Usage{}, tr.Usage("req-1"))
}
