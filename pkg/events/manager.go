package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit caps one catch-up response. A client that missed more than
// this gets a catchup.overflow message and is expected to reload over REST
// instead of paginating.
const catchupLimit = 200

// outboxCap bounds each connection's pending-frame queue. A subscriber that
// can't drain an admin feed plus a token stream this deep is not coming
// back; it gets disconnected rather than allowed to stall broadcasts.
const outboxCap = 64

// listenTimeout bounds the synchronous LISTEN issued for a channel's first
// subscriber.
const listenTimeout = 10 * time.Second

// CatchupEvent is one stored event row replayed to a reconnecting client.
type CatchupEvent struct {
	ID      int
	Payload map[string]interface{}
}

// CatchupQuerier reads the durable event log for catch-up; backed by the
// state store's events table (see catchup_adapter.go).
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// Connection is one WebSocket subscriber. Frames are delivered through a
// buffered outbox drained by a dedicated writer goroutine, so a slow socket
// never blocks the broadcaster; subs is touched only by the read loop that
// owns the connection.
type Connection struct {
	id     string
	sock   *websocket.Conn
	outbox chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	subs   map[string]struct{}
}

// ConnectionManager fans request/admin channel events out to WebSocket
// subscribers. One instance exists per process; the NotifyListener feeds it
// every NOTIFY payload via Broadcast.
type ConnectionManager struct {
	mu          sync.Mutex
	conns       map[*Connection]struct{}
	subscribers map[string]map[*Connection]struct{}
	listener    *NotifyListener

	catchup      CatchupQuerier
	writeTimeout time.Duration
}

// NewConnectionManager builds a manager. writeTimeout bounds each frame
// write on the connection's writer goroutine.
func NewConnectionManager(catchup CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		conns:        make(map[*Connection]struct{}),
		subscribers:  make(map[string]map[*Connection]struct{}),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// SetListener attaches the NotifyListener used for on-demand
// LISTEN/UNLISTEN; called once at startup.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *ConnectionManager) currentListener() *NotifyListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// HandleConnection owns a single WebSocket from upgrade to close. Blocks
// until the client disconnects or its writer gives up.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, sock *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		id:     uuid.NewString(),
		sock:   sock,
		outbox: make(chan []byte, outboxCap),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]struct{}),
	}

	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.mu.Unlock()
	defer m.teardown(c)

	go m.writeLoop(c)

	m.enqueueJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.dispatch(ctx, c, &msg)
	}
}

// writeLoop drains the connection's outbox onto the socket. Any write error
// or timeout cancels the connection, which unwinds the read loop too.
func (m *ConnectionManager) writeLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.sock.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Warn("WebSocket write failed, dropping connection", "connection_id", c.id, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// enqueue hands a frame to the connection's writer. A full outbox means the
// client has stopped draining; the connection is cancelled instead of
// letting it backpressure every other subscriber.
func (m *ConnectionManager) enqueue(c *Connection, frame []byte) {
	select {
	case c.outbox <- frame:
	case <-c.ctx.Done():
	default:
		slog.Warn("WebSocket outbox full, dropping slow connection", "connection_id", c.id)
		c.cancel()
	}
}

func (m *ConnectionManager) enqueueJSON(c *Connection, v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		slog.Warn("could not marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	m.enqueue(c, frame)
}

// dispatch routes one client message.
func (m *ConnectionManager) dispatch(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.enqueueJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.enqueueJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": msg.Channel,
				"message": "failed to subscribe to channel",
			})
			return
		}
		m.enqueueJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Replay everything already logged so late subscribers see the
		// whole request stream.
		m.replay(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.enqueueJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.enqueueJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.replay(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.enqueueJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe establishes the PG LISTEN before registering the subscriber, so
// a confirmed subscription always has a live LISTEN behind it. Duplicate
// LISTENs for concurrent first-subscribers are harmless — PostgreSQL treats
// LISTEN idempotently.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.mu.Lock()
	_, active := m.subscribers[channel]
	m.mu.Unlock()

	if !active {
		if l := m.currentListener(); l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			err := l.Subscribe(listenCtx, channel)
			cancel()
			if err != nil {
				slog.Error("LISTEN failed", "channel", channel, "error", err)
				return err
			}
		}
	}

	m.mu.Lock()
	if m.subscribers[channel] == nil {
		m.subscribers[channel] = make(map[*Connection]struct{})
	}
	m.subscribers[channel][c] = struct{}{}
	m.mu.Unlock()

	c.subs[channel] = struct{}{}
	return nil
}

// unsubscribe drops the subscriber; the last one out schedules an UNLISTEN,
// re-checking for a racing resubscribe before actually issuing it.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	delete(c.subs, channel)

	m.mu.Lock()
	lastOut := false
	if set, exists := m.subscribers[channel]; exists {
		delete(set, c)
		if len(set) == 0 {
			delete(m.subscribers, channel)
			lastOut = true
		}
	}
	l := m.listener
	m.mu.Unlock()

	if !lastOut || l == nil {
		return
	}
	go func() {
		m.mu.Lock()
		_, resubscribed := m.subscribers[channel]
		m.mu.Unlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("UNLISTEN failed", "channel", channel, "error", err)
		}
	}()
}

// replay streams the durable event log since sinceID to one client,
// stamping each row's db_event_id so the client can resume from it.
func (m *ConnectionManager) replay(ctx context.Context, c *Connection, channel string, sinceID int) {
	if m.catchup == nil {
		return
	}

	rows, err := m.catchup.GetCatchupEvents(ctx, channel, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("catch-up query failed", "channel", channel, "error", err)
		return
	}
	overflow := len(rows) > catchupLimit
	if overflow {
		rows = rows[:catchupLimit]
	}

	for _, row := range rows {
		row.Payload["db_event_id"] = row.ID
		frame, err := json.Marshal(row.Payload)
		if err != nil {
			continue
		}
		m.enqueue(c, frame)
	}

	if overflow {
		m.enqueueJSON(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// Broadcast fans one NOTIFY payload out to every subscriber of channel.
func (m *ConnectionManager) Broadcast(channel string, payload []byte) {
	m.mu.Lock()
	set := m.subscribers[channel]
	targets := make([]*Connection, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	m.mu.Unlock()

	for _, c := range targets {
		m.enqueue(c, payload)
	}
}

// ActiveConnections reports the live connection count for the admin rollup.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// subscriberCount lets tests poll registration state instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[channel])
}

// teardown unregisters the connection everywhere and closes the socket.
func (m *ConnectionManager) teardown(c *Connection) {
	for channel := range c.subs {
		m.unsubscribe(c, channel)
	}

	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()

	c.cancel()
	_ = c.sock.Close(websocket.StatusNormalClosure, "")
}
