package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu  sync.Mutex
	got []Notification
}

func (f *fakeSink) Notify(ctx context.Context, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
}

func TestHub_PublishDeliversToSinkAndSubscribers(t *testing.T) {
	sink := &fakeSink{}
	hub := NewHub(sink)

	var received []Notification
	hub.Subscribe("scheduler", LevelHigh, func(n Notification) {
		received = append(received, n)
	})

	hub.Publish(context.Background(), Notification{Category: "scheduler", Level: LevelCritical, Title: "task disabled"})
	hub.Publish(context.Background(), Notification{Category: "ingestion", Level: LevelCritical, Title: "unrelated"})
	hub.Publish(context.Background(), Notification{Category: "scheduler", Level: LevelInfo, Title: "too low"})

	require.Len(t, sink.got, 3, "sink receives every notification regardless of subscriber filters")
	require.Len(t, received, 1, "subscriber only sees matching category at or above its min level")
	assert.Equal(t, "task disabled", received[0].Title)
}

func TestHub_PublishWithNilSinkStillNotifiesSubscribers(t *testing.T) {
	hub := NewHub(nil)

	fired := false
	hub.Subscribe("", LevelInfo, func(n Notification) { fired = true })

	hub.Publish(context.Background(), Notification{Category: "anything", Level: LevelInfo, Title: "x"})

	assert.True(t, fired)
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, levelAtLeast(LevelCritical, LevelHigh))
	assert.True(t, levelAtLeast(LevelHigh, LevelHigh))
	assert.False(t, levelAtLeast(LevelInfo, LevelHigh))
}

func TestNewSlackSink_NilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewSlackSink("", "#channel"))
	assert.Nil(t, NewSlackSink("xoxb-token", ""))
	assert.NotNil(t, NewSlackSink("xoxb-token", "#channel"))
}

func TestBuildMessage_TruncatesLongDetail(t *testing.T) {
	long := make([]byte, maxBlockTextLength+500)
	for i := range long {
		long[i] = 'a'
	}
	blocks := buildMessage(Notification{Category: "x", Level: LevelHigh, Title: "t", Detail: string(long)})
	require.Len(t, blocks, 2)
}
