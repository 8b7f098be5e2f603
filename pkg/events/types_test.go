package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestChannel(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		want      string
	}{
		{name: "formats request channel correctly", requestID: "abc-123", want: "request:abc-123"},
		{
			name:      "handles UUID format",
			requestID: "550e8400-e29b-41d4-a716-446655440000",
			want:      "request:550e8400-e29b-41d4-a716-446655440000",
		},
		{name: "handles empty string", requestID: "", want: "request:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestChannel(tt.requestID)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeToken,
		EventTypeToolStart,
		EventTypeToolEnd,
		EventTypeSystemStatus,
		EventTypeLayerUpdate,
		EventTypeControlUI,
		EventTypeErr,
		EventTypeDone,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestGlobalAdminChannel(t *testing.T) {
	assert.Equal(t, "admin", GlobalAdminChannel)
}
