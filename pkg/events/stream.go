package events

// StreamEvent is the in-process representation of one event in a chat
// request's stream. The Nexus Regulator and the
// Agent Engine both produce these; the HTTP layer consumes them to build the
// final completion object, and EventPublisher mirrors them onto the
// WebSocket fan-out as the typed payloads in payloads.go.
type StreamEvent struct {
	Type      string // one of the EventType* constants
	RequestID string

	// Token events.
	Delta string

	// Tool events.
	CallID    string
	Tool      string
	OK        bool
	Output    string // markdown-rendered (internal/format)
	LatencyMS int64

	// system_status / layer_update / control_ui.
	Message string
	Detail  string
	Layer   string
	Active  bool
	Opacity float64
	Visible bool
	Action  string
	Data    map[string]any

	// error events.
	ErrKind string
	ErrMsg  string
}

// Token builds a token event.
func Token(requestID, delta string) StreamEvent {
	return StreamEvent{Type: EventTypeToken, RequestID: requestID, Delta: delta}
}

// ToolStart builds a tool_start event.
func ToolStart(requestID, callID, tool string) StreamEvent {
	return StreamEvent{Type: EventTypeToolStart, RequestID: requestID, CallID: callID, Tool: tool}
}

// ToolEnd builds a tool_end event carrying the rendered output.
func ToolEnd(requestID, callID, tool string, ok bool, output string, latencyMS int64) StreamEvent {
	return StreamEvent{Type: EventTypeToolEnd, RequestID: requestID, CallID: callID, Tool: tool, OK: ok, Output: output, LatencyMS: latencyMS}
}

// SystemStatus builds a system_status event.
func SystemStatus(requestID, message, detail string) StreamEvent {
	return StreamEvent{Type: EventTypeSystemStatus, RequestID: requestID, Message: message, Detail: detail}
}

// LayerUpdate builds a layer_update event from a layer's current state.
func LayerUpdate(requestID, layer string, active bool, opacity float64, visible bool) StreamEvent {
	return StreamEvent{Type: EventTypeLayerUpdate, RequestID: requestID, Layer: layer, Active: active, Opacity: opacity, Visible: visible}
}

// ControlUI builds a control_ui event.
func ControlUI(requestID, action string, data map[string]any) StreamEvent {
	return StreamEvent{Type: EventTypeControlUI, RequestID: requestID, Action: action, Data: data}
}

// Error builds an error event.
func Error(requestID, kind, msg string) StreamEvent {
	return StreamEvent{Type: EventTypeErr, RequestID: requestID, ErrKind: kind, ErrMsg: msg}
}

// Done builds the stream-terminating done event.
func Done(requestID string) StreamEvent {
	return StreamEvent{Type: EventTypeDone, RequestID: requestID}
}
