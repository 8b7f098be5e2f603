package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListener() *NotifyListener {
	manager := NewConnectionManager(&mockCatchupQuerier{}, 0)
	return NewNotifyListener("host=localhost dbname=test", manager)
}

func TestSubscribe_BeforeStartErrors(t *testing.T) {
	l := newTestListener()
	err := l.Subscribe(context.Background(), "request:abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not established")
}

func TestUnsubscribe_NeverDesiredIsNoOp(t *testing.T) {
	l := newTestListener()
	assert.NoError(t, l.Unsubscribe(context.Background(), "request:abc"))
	assert.False(t, l.isListening("request:abc"))
}

func TestDesiredSet_DrivesIsListening(t *testing.T) {
	l := newTestListener()

	l.desiredMu.Lock()
	l.desired["admin"] = struct{}{}
	l.desiredMu.Unlock()
	assert.True(t, l.isListening("admin"))

	require.NoError(t, l.Unsubscribe(context.Background(), "admin"))
	assert.False(t, l.isListening("admin"))
}

func TestRegisterHandler_ReceivesDeliveredPayloads(t *testing.T) {
	l := newTestListener()

	var got []byte
	l.RegisterHandler("control", func(payload []byte) { got = payload })

	l.deliver("control", []byte(`{"type":"system_status"}`))
	assert.JSONEq(t, `{"type":"system_status"}`, string(got))

	// Channels without a handler still broadcast without panicking.
	l.deliver("other", []byte(`{}`))
}
