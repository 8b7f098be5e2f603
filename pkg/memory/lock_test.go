package memory

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidationLock_DropsAndRemovesMarkerFile(t *testing.T) {
	dir := t.TempDir()
	lock := NewConsolidationLock(dir, slog.New(slog.DiscardHandler))

	release := lock.Acquire("test")
	markerPath := filepath.Join(dir, "memory.lock")
	data, err := os.ReadFile(markerPath)
	require.NoError(t, err)
	assert.Equal(t, "test", string(data))

	release()
	_, err = os.Stat(markerPath)
	assert.True(t, os.IsNotExist(err))
}

func TestConsolidationLock_SerializesConcurrentHolders(t *testing.T) {
	dir := t.TempDir()
	lock := NewConsolidationLock(dir, slog.New(slog.DiscardHandler))

	release := lock.Acquire("first")
	done := make(chan struct{})
	go func() {
		r := lock.Acquire("second")
		r()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquirer should not have proceeded while first holds the lock")
	default:
	}
	release()
	<-done
}
