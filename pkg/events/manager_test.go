package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCatchupQuerier replays a fixed event log, or fails every query.
type mockCatchupQuerier struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchupQuerier) GetCatchupEvents(_ context.Context, _ string, sinceID, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []CatchupEvent
	for _, ev := range m.events {
		if ev.ID > sinceID {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// startManager serves a manager over a throwaway WebSocket endpoint.
func startManager(t *testing.T, catchup CatchupQuerier) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	m := NewConnectionManager(catchup, 5*time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), sock)
	}))
	t.Cleanup(srv.Close)
	return m, srv
}

// wsClient wraps one connected WebSocket for the tests' send/expect flow.
type wsClient struct {
	t    *testing.T
	sock *websocket.Conn
	ctx  context.Context
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sock, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close(websocket.StatusNormalClosure, "") })

	c := &wsClient{t: t, sock: sock, ctx: ctx}
	// Every connection opens with connection.established.
	first := c.next()
	require.Equal(t, "connection.established", first["type"])
	return c
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.sock.Write(c.ctx, websocket.MessageText, data))
}

func (c *wsClient) next() map[string]any {
	c.t.Helper()
	_, data, err := c.sock.Read(c.ctx)
	require.NoError(c.t, err)
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(data, &out))
	return out
}

func (c *wsClient) subscribe(channel string) {
	c.t.Helper()
	c.send(ClientMessage{Action: "subscribe", Channel: channel})
	msg := c.next()
	require.Equal(c.t, "subscription.confirmed", msg["type"])
	require.Equal(c.t, channel, msg["channel"])
}

func TestHandleConnection_PingPong(t *testing.T) {
	_, srv := startManager(t, &mockCatchupQuerier{})
	c := dial(t, srv)

	c.send(ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", c.next()["type"])
}

func TestSubscribe_ConfirmsAndReplaysLog(t *testing.T) {
	log := []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": "tool_start", "tool": "query_facts"}},
		{ID: 2, Payload: map[string]any{"type": "tool_end", "tool": "query_facts"}},
	}
	_, srv := startManager(t, &mockCatchupQuerier{events: log})
	c := dial(t, srv)

	c.subscribe(RequestChannel("req-1"))

	first := c.next()
	assert.Equal(t, "tool_start", first["type"])
	assert.EqualValues(t, 1, first["db_event_id"])
	second := c.next()
	assert.Equal(t, "tool_end", second["type"])
	assert.EqualValues(t, 2, second["db_event_id"])
}

func TestSubscribe_RequiresChannel(t *testing.T) {
	_, srv := startManager(t, &mockCatchupQuerier{})
	c := dial(t, srv)

	c.send(ClientMessage{Action: "subscribe"})
	msg := c.next()
	assert.Equal(t, "error", msg["type"])
}

func TestBroadcast_ReachesOnlySubscribers(t *testing.T) {
	m, srv := startManager(t, &mockCatchupQuerier{})

	sub := dial(t, srv)
	other := dial(t, srv)
	sub.subscribe(RequestChannel("req-a"))
	other.subscribe(RequestChannel("req-b"))

	m.Broadcast(RequestChannel("req-a"), []byte(`{"type":"token","delta":"hi"}`))

	got := sub.next()
	assert.Equal(t, "token", got["type"])
	assert.Equal(t, "hi", got["delta"])

	// The other client must only ever see its own channel's traffic.
	m.Broadcast(RequestChannel("req-b"), []byte(`{"type":"done"}`))
	assert.Equal(t, "done", other.next()["type"])
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	m, srv := startManager(t, &mockCatchupQuerier{})
	c := dial(t, srv)
	channel := RequestChannel("req-u")
	c.subscribe(channel)

	c.send(ClientMessage{Action: "unsubscribe", Channel: channel})

	deadline := time.Now().Add(2 * time.Second)
	for m.subscriberCount(channel) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Zero(t, m.subscriberCount(channel))

	m.Broadcast(channel, []byte(`{"type":"token"}`))
	// Nothing should arrive; a ping round-trip proves the socket is idle.
	c.send(ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", c.next()["type"])
}

func TestCatchup_SinceIDFiltersAndOverflows(t *testing.T) {
	var log []CatchupEvent
	for i := 1; i <= catchupLimit+10; i++ {
		log = append(log, CatchupEvent{ID: i, Payload: map[string]any{"type": "token", "n": i}})
	}
	_, srv := startManager(t, &mockCatchupQuerier{events: log})
	c := dial(t, srv)
	channel := RequestChannel("req-c")
	c.subscribe(channel)

	// The auto-replay hits the overflow path: catchupLimit rows then the
	// overflow marker.
	for i := 0; i < catchupLimit; i++ {
		msg := c.next()
		require.Equal(t, "token", msg["type"], "row %d", i)
	}
	overflow := c.next()
	assert.Equal(t, "catchup.overflow", overflow["type"])
	assert.Equal(t, true, overflow["has_more"])

	// An explicit catchup from near the end replays only the tail.
	lastSeen := catchupLimit + 8
	c.send(ClientMessage{Action: "catchup", Channel: channel, LastEventID: &lastSeen})
	tail := c.next()
	assert.EqualValues(t, catchupLimit+9, tail["db_event_id"])
	tail = c.next()
	assert.EqualValues(t, catchupLimit+10, tail["db_event_id"])
}

func TestCatchupError_LeavesConnectionUsable(t *testing.T) {
	_, srv := startManager(t, &mockCatchupQuerier{err: fmt.Errorf("database unreachable")})
	c := dial(t, srv)

	c.subscribe(RequestChannel("req-e")) // replay fails server-side, silently

	c.send(ClientMessage{Action: "ping"})
	assert.Equal(t, "pong", c.next()["type"])
}

func TestActiveConnections_TracksLifecycle(t *testing.T) {
	m, srv := startManager(t, &mockCatchupQuerier{})
	require.Zero(t, m.ActiveConnections())

	c := dial(t, srv)
	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, m.ActiveConnections())

	require.NoError(t, c.sock.Close(websocket.StatusNormalClosure, ""))
	deadline = time.Now().Add(2 * time.Second)
	for m.ActiveConnections() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Zero(t, m.ActiveConnections())
}
