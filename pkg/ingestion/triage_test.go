package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHeavy(t *testing.T) {
	tests := []struct {
		name  string
		ext   string
		size  int64
		heavy bool
	}{
		{"small text", ".txt", 100, false},
		{"small pdf", ".pdf", HeavyPDFSizeBytes, false},
		{"big pdf", ".pdf", HeavyPDFSizeBytes + 1, true},
		{"audio always heavy", ".mp3", 10, true},
		{"video always heavy", ".mp4", 10, true},
		{"m4a always heavy", ".m4a", 10, true},
		{"oversize anything", ".md", HeavyFileSizeBytes + 1, true},
		{"size boundary", ".md", HeavyFileSizeBytes, false},
		{"case insensitive ext", ".PDF", HeavyPDFSizeBytes + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.heavy, isHeavy(tt.ext, tt.size))
		})
	}
}

func TestInNightWindow_WrapAround(t *testing.T) {
	cfg := Config{NightWindowStart: 23, NightWindowEnd: 5}
	assert.True(t, cfg.InNightWindow(23))
	assert.True(t, cfg.InNightWindow(0))
	assert.True(t, cfg.InNightWindow(4))
	assert.False(t, cfg.InNightWindow(5))
	assert.False(t, cfg.InNightWindow(12))
}

func TestInNightWindow_Plain(t *testing.T) {
	cfg := Config{NightWindowStart: 1, NightWindowEnd: 6}
	assert.False(t, cfg.InNightWindow(0))
	assert.True(t, cfg.InNightWindow(1))
	assert.True(t, cfg.InNightWindow(5))
	assert.False(t, cfg.InNightWindow(6))
}

func TestBrainKBID(t *testing.T) {
	assert.Equal(t, "projects.roadmap", brainKBID("/brain", "/brain/projects/roadmap.md"))
	assert.Equal(t, "index", brainKBID("/brain", "/brain/index.md"))
}
