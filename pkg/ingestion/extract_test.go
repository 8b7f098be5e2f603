package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText_ReplacesInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte{'h', 'i', 0xff, 0xfe, '!'}, 0o644))

	out, err := extractPlainText(path)
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "�")
}

func TestExtractCSV_RendersMarkdownTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,age\nalice,30\nbob,41\n"), 0o644))

	out, err := extractCSV(path)
	require.NoError(t, err)
	assert.Contains(t, out, "| name | age |")
	assert.Contains(t, out, "| --- | --- |")
	assert.Contains(t, out, "| alice | 30 |")
	assert.Contains(t, out, "| bob | 41 |")
}

func TestExtractImage_NoVisionBackendFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("png bytes"), 0o644))

	_, err := extractText(context.Background(), path, ".png", nil)
	assert.Error(t, err)
}

func TestExtractText_UnknownExtensionFails(t *testing.T) {
	_, err := extractText(context.Background(), "x.bin", ".bin", nil)
	assert.Error(t, err)
}
