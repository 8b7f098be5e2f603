package httpapi

import (
	"context"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
)

// publishEvent mirrors one chat stream event onto the request's WebSocket
// channel via the NOTIFY-backed publisher. Fail-open: delivery problems are
// logged and never interrupt the HTTP response being assembled.
func (s *Server) publishEvent(ctx context.Context, ev events.StreamEvent) {
	if s.publisher == nil {
		return
	}
	ts := time.Now().Format(time.RFC3339Nano)
	var err error
	switch ev.Type {
	case events.EventTypeToken:
		err = s.publisher.PublishToken(ctx, ev.RequestID, events.TokenPayload{
			Type: ev.Type, RequestID: ev.RequestID, Delta: ev.Delta, Timestamp: ts,
		})
	case events.EventTypeToolStart:
		err = s.publisher.PublishToolStart(ctx, ev.RequestID, events.ToolStartPayload{
			Type: ev.Type, RequestID: ev.RequestID, CallID: ev.CallID, Tool: ev.Tool, Timestamp: ts,
		})
	case events.EventTypeToolEnd:
		err = s.publisher.PublishToolEnd(ctx, ev.RequestID, events.ToolEndPayload{
			Type: ev.Type, RequestID: ev.RequestID, CallID: ev.CallID, Tool: ev.Tool,
			OK: ev.OK, Output: ev.Output, Error: ev.ErrMsg, LatencyMs: ev.LatencyMS, Timestamp: ts,
		})
	case events.EventTypeSystemStatus:
		err = s.publisher.PublishSystemStatus(ctx, ev.RequestID, events.SystemStatusPayload{
			Type: ev.Type, RequestID: ev.RequestID, Message: ev.Message, Detail: ev.Detail, Timestamp: ts,
		})
	case events.EventTypeLayerUpdate:
		err = s.publisher.PublishLayerUpdate(ctx, ev.RequestID, events.LayerUpdatePayload{
			Type: ev.Type, RequestID: ev.RequestID, Layer: ev.Layer,
			Active: ev.Active, Opacity: ev.Opacity, Visible: ev.Visible, Timestamp: ts,
		})
	case events.EventTypeControlUI:
		err = s.publisher.PublishControlUI(ctx, ev.RequestID, events.ControlUIPayload{
			Type: ev.Type, RequestID: ev.RequestID, Action: ev.Action, Data: ev.Data, Timestamp: ts,
		})
	case events.EventTypeErr:
		err = s.publisher.PublishError(ctx, ev.RequestID, events.ErrorPayload{
			Type: ev.Type, RequestID: ev.RequestID, Kind: ev.ErrKind, Message: ev.ErrMsg, Timestamp: ts,
		})
	case events.EventTypeDone:
		err = s.publisher.PublishDone(ctx, ev.RequestID)
	}
	if err != nil {
		s.logger.Warn("event publish failed", "type", ev.Type, "request_id", ev.RequestID, "error", err)
	}
}
