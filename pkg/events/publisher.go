package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventPublisher publishes Nexus-taxonomy events for WebSocket delivery.
// token/tool_start/tool_end/system_status events are persisted then
// broadcast via NOTIFY so a reconnecting client can catch up; the rest
// (layer_update/control_ui/error/done) are NOTIFY-only.
type EventPublisher struct {
	pool *pgxpool.Pool
}

// NewEventPublisher creates a new EventPublisher over the same pool
// internal/statestore.Store uses.
func NewEventPublisher(pool *pgxpool.Pool) *EventPublisher {
	return &EventPublisher{pool: pool}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- Typed public methods ---

// PublishToken persists and broadcasts a token event.
func (p *EventPublisher) PublishToken(ctx context.Context, requestID string, payload TokenPayload) error {
	payload.Type = EventTypeToken
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TokenPayload: %w", err)
	}
	return p.notifyOnly(ctx, RequestChannel(requestID), payloadJSON)
}

// PublishToolStart persists and broadcasts a tool_start event.
func (p *EventPublisher) PublishToolStart(ctx context.Context, requestID string, payload ToolStartPayload) error {
	payload.Type = EventTypeToolStart
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolStartPayload: %w", err)
	}
	return p.persistAndNotify(ctx, requestID, RequestChannel(requestID), payloadJSON)
}

// PublishToolEnd persists and broadcasts a tool_end event.
func (p *EventPublisher) PublishToolEnd(ctx context.Context, requestID string, payload ToolEndPayload) error {
	payload.Type = EventTypeToolEnd
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ToolEndPayload: %w", err)
	}
	return p.persistAndNotify(ctx, requestID, RequestChannel(requestID), payloadJSON)
}

// PublishSystemStatus persists and broadcasts a system_status event. When
// requestID is empty the event is routed to the admin feed instead of a
// per-request channel.
func (p *EventPublisher) PublishSystemStatus(ctx context.Context, requestID string, payload SystemStatusPayload) error {
	payload.Type = EventTypeSystemStatus
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SystemStatusPayload: %w", err)
	}
	channel := GlobalAdminChannel
	if requestID != "" {
		channel = RequestChannel(requestID)
	}
	return p.persistAndNotify(ctx, requestID, channel, payloadJSON)
}

// PublishLayerUpdate broadcasts a layer_update transient event. Not persisted — layer state is derivable from current state on
// reconnect, not a replay log.
func (p *EventPublisher) PublishLayerUpdate(ctx context.Context, requestID string, payload LayerUpdatePayload) error {
	payload.Type = EventTypeLayerUpdate
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal LayerUpdatePayload: %w", err)
	}
	return p.notifyOnly(ctx, RequestChannel(requestID), payloadJSON)
}

// PublishControlUI broadcasts a control_ui transient event.
func (p *EventPublisher) PublishControlUI(ctx context.Context, requestID string, payload ControlUIPayload) error {
	payload.Type = EventTypeControlUI
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ControlUIPayload: %w", err)
	}
	return p.notifyOnly(ctx, RequestChannel(requestID), payloadJSON)
}

// PublishError broadcasts an error transient event terminating a stream.
func (p *EventPublisher) PublishError(ctx context.Context, requestID string, payload ErrorPayload) error {
	payload.Type = EventTypeErr
	payload.RequestID = requestID
	if payload.Timestamp == "" {
		payload.Timestamp = nowRFC3339()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ErrorPayload: %w", err)
	}
	return p.notifyOnly(ctx, RequestChannel(requestID), payloadJSON)
}

// PublishDone broadcasts a done transient event closing a request's stream.
func (p *EventPublisher) PublishDone(ctx context.Context, requestID string) error {
	payload := DonePayload{Type: EventTypeDone, RequestID: requestID, Timestamp: nowRFC3339()}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal DonePayload: %w", err)
	}
	return p.notifyOnly(ctx, RequestChannel(requestID), payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the events table and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional
// — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, requestID, channel string, payloadJSON []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (request_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		requestID, channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":       routing.Type,
		"request_id": routing.RequestID,
		"truncated":  true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
