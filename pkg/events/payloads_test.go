package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadsRoundTripJSON(t *testing.T) {
	cases := []any{
		TokenPayload{Type: EventTypeToken, RequestID: "r1", Delta: "hi"},
		ToolStartPayload{Type: EventTypeToolStart, RequestID: "r1", CallID: "c1", Tool: "get_system_status"},
		ToolEndPayload{Type: EventTypeToolEnd, RequestID: "r1", CallID: "c1", Tool: "get_system_status", OK: true, Output: "# ok"},
		SystemStatusPayload{Type: EventTypeSystemStatus, Message: "gateway degraded"},
		LayerUpdatePayload{Type: EventTypeLayerUpdate, RequestID: "r1", Layer: "chat", Active: true, Opacity: 1, Visible: true},
		ControlUIPayload{Type: EventTypeControlUI, RequestID: "r1", Action: "open_menu"},
		ErrorPayload{Type: EventTypeErr, RequestID: "r1", Kind: "mcp_unavailable", Message: "server down"},
		DonePayload{Type: EventTypeDone, RequestID: "r1"},
	}

	for _, c := range cases {
		data, err := json.Marshal(c)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.NotEmpty(t, decoded["type"])
	}
}

func TestToolEndPayloadCarriesErrorOrOutputNotBoth(t *testing.T) {
	ok := ToolEndPayload{Type: EventTypeToolEnd, OK: true, Output: "result"}
	assert.Empty(t, ok.Error)

	failed := ToolEndPayload{Type: EventTypeToolEnd, OK: false, Error: "timeout"}
	assert.Empty(t, failed.Output)
}
