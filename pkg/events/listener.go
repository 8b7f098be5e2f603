package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// NotifyListener owns the process's single dedicated LISTEN connection. It
// runs a desired-state reconciliation loop: Subscribe/Unsubscribe edit a
// desired channel set under a lock, and the loop — the only goroutine that
// ever touches the pgx connection — diffs desired against what is actually
// LISTENed and issues the LISTEN/UNLISTEN statements to close the gap.
// Reconnecting simply clears the actual set, so the next reconcile pass
// re-LISTENs everything desired.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager

	connMu sync.Mutex
	conn   *pgx.Conn

	desiredMu sync.Mutex
	desired   map[string]struct{}

	// actual is owned exclusively by the reconcile/receive loop.
	actual map[string]struct{}

	// kick carries per-call ack channels: the loop reconciles, then closes
	// every pending ack so Subscribe can confirm the LISTEN really ran.
	kick chan chan error

	handlersMu sync.RWMutex
	handlers   map[string]func(payload []byte)

	running    atomic.Bool
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener builds a listener over connString, dispatching every
// received NOTIFY to manager.
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		desired:    make(map[string]struct{}),
		actual:     make(map[string]struct{}),
		kick:       make(chan chan error, 32),
		handlers:   make(map[string]func(payload []byte)),
	}
}

// Start opens the dedicated connection and launches the loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.run(loopCtx)
	}()

	slog.Info("notify listener started")
	return nil
}

// Subscribe adds channel to the desired set and blocks until the loop has
// reconciled, so callers can treat a nil return as "LISTEN is live".
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return errors.New("LISTEN connection not established")
	}

	l.desiredMu.Lock()
	l.desired[channel] = struct{}{}
	l.desiredMu.Unlock()

	ack := make(chan error, 1)
	select {
	case l.kick <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		if err != nil {
			return fmt.Errorf("LISTEN %s: %w", channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes channel from the desired set; the loop issues the
// UNLISTEN on its next pass. Fire-and-forget: a channel nobody wants again
// costs at most one idle LISTEN until then.
func (l *NotifyListener) Unsubscribe(_ context.Context, channel string) error {
	l.desiredMu.Lock()
	_, had := l.desired[channel]
	delete(l.desired, channel)
	l.desiredMu.Unlock()

	if !had || !l.running.Load() {
		return nil
	}
	// Nudge the loop; a full kick queue means a reconcile is imminent anyway.
	select {
	case l.kick <- nil:
	default:
	}
	return nil
}

// isListening lets tests poll the desired set instead of sleeping.
func (l *NotifyListener) isListening(channel string) bool {
	l.desiredMu.Lock()
	defer l.desiredMu.Unlock()
	_, ok := l.desired[channel]
	return ok
}

// RegisterHandler attaches an in-process callback for one channel's NOTIFY
// payloads, invoked alongside the WebSocket broadcast.
func (l *NotifyListener) RegisterHandler(channel string, fn func(payload []byte)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[channel] = fn
}

// run alternates between reconciling the LISTEN set and waiting (with a
// short deadline, so kicks are picked up promptly) for notifications.
func (l *NotifyListener) run(ctx context.Context) {
	for ctx.Err() == nil {
		acks := l.drainKicks()

		conn := l.currentConn()
		if conn == nil {
			failAcks(acks, errors.New("LISTEN connection lost"))
			l.reconnect(ctx)
			continue
		}

		err := l.reconcile(ctx, conn)
		failAcks(acks, err)
		if err != nil {
			slog.Error("LISTEN reconcile failed", "error", err)
			l.dropConn(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // deadline: go pick up kicks
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.dropConn(ctx)
			continue
		}

		l.deliver(notification.Channel, []byte(notification.Payload))
	}
}

// deliver routes one notification to the registered handler (if any) and
// the WebSocket fan-out.
func (l *NotifyListener) deliver(channel string, payload []byte) {
	l.handlersMu.RLock()
	handler := l.handlers[channel]
	l.handlersMu.RUnlock()
	if handler != nil {
		handler(payload)
	}
	l.manager.Broadcast(channel, payload)
}

// drainKicks collects every pending ack without blocking.
func (l *NotifyListener) drainKicks() []chan error {
	var acks []chan error
	for {
		select {
		case ack := <-l.kick:
			if ack != nil {
				acks = append(acks, ack)
			}
		default:
			return acks
		}
	}
}

func failAcks(acks []chan error, err error) {
	for _, ack := range acks {
		ack <- err
	}
}

// reconcile diffs the desired set against what this connection actually
// LISTENs and issues the statements to converge.
func (l *NotifyListener) reconcile(ctx context.Context, conn *pgx.Conn) error {
	l.desiredMu.Lock()
	want := make(map[string]struct{}, len(l.desired))
	for ch := range l.desired {
		want[ch] = struct{}{}
	}
	l.desiredMu.Unlock()

	for ch := range want {
		if _, ok := l.actual[ch]; ok {
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return err
		}
		l.actual[ch] = struct{}{}
	}
	for ch := range l.actual {
		if _, ok := want[ch]; ok {
			continue
		}
		if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return err
		}
		delete(l.actual, ch)
	}
	return nil
}

func (l *NotifyListener) currentConn() *pgx.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

// dropConn closes the current connection so the loop reconnects; the
// actual set is cleared because a fresh connection LISTENs to nothing.
func (l *NotifyListener) dropConn(ctx context.Context) {
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.connMu.Unlock()
	l.actual = make(map[string]struct{})
}

// reconnect dials with exponential backoff; the next reconcile pass
// restores every desired LISTEN.
func (l *NotifyListener) reconnect(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		slog.Info("notify listener reconnected")
		return
	}
}

// Stop winds the loop down and closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
