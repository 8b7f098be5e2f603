package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sidecarFrontMatter renders the YAML front-matter + transcription sidecar
// written next to every filed document.
func sidecarFrontMatter(stem string, c Classification, ingestedAt time.Time, content string) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "kb_id: %s\n", c.KBID)
	fmt.Fprintf(&b, "authority: %.2f\n", c.Authority)
	fmt.Fprintf(&b, "ingested_at: %s\n", ingestedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "keywords: [%s]\n", strings.Join(c.ShadowTags, ", "))
	b.WriteString("---\n")
	fmt.Fprintf(&b, "# Transcription of %s\n", stem)
	fmt.Fprintf(&b, "**Summary:** %s\n", c.GlobalSummary)
	b.WriteString("---\n")
	b.WriteString(content)
	return b.String()
}

// fileResult captures where a file and its sidecar ended up, for logging
// and the "mark seen" step that follows a successful file.
type fileResult struct {
	TargetPath  string
	SidecarPath string
}

// file moves the original into processedDir with collision-safe renaming
// and
// writes the sidecar alongside it. now is injected for deterministic tests.
func file(srcPath, processedDir string, c Classification, content string, now time.Time) (fileResult, error) {
	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	target := filepath.Join(processedDir, base)
	sidecarName := stem + "_transcript.md"
	if _, err := os.Stat(target); err == nil {
		ts := now.Unix()
		target = filepath.Join(processedDir, fmt.Sprintf("%s_%d%s", stem, ts, ext))
		sidecarName = fmt.Sprintf("%s_%d_transcript.md", stem, ts)
	}
	sidecarPath := filepath.Join(processedDir, sidecarName)

	sidecar := sidecarFrontMatter(stem, c, now, content)
	if err := os.WriteFile(sidecarPath, []byte(sidecar), 0o644); err != nil {
		return fileResult{}, fmt.Errorf("ingestion: write sidecar: %w", err)
	}
	if err := os.Rename(srcPath, target); err != nil {
		return fileResult{}, fmt.Errorf("ingestion: move to processed: %w", err)
	}
	return fileResult{TargetPath: target, SidecarPath: sidecarPath}, nil
}

// moveTo relocates a file to destDir under its current basename, used for
// the duplicates/review/rejected/deferred outcomes (no sidecar, no
// collision renaming — those directories are housekeeping, not the
// permanent archive).
func moveTo(srcPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("ingestion: ensure dest dir: %w", err)
	}
	dest := filepath.Join(destDir, filepath.Base(srcPath))
	if err := os.Rename(srcPath, dest); err != nil {
		return fmt.Errorf("ingestion: move to %s: %w", destDir, err)
	}
	return nil
}
