package config

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sovereignFrontMatter is the subset of a sovereign file's YAML front matter
// this loader cares about. Sovereign files may
// declare chat triggers inline instead of — or in addition to — triggers.yaml.
type sovereignFrontMatter struct {
	Triggers []sovereignTriggerDecl `yaml:"triggers"`
}

type sovereignTriggerDecl struct {
	Name        string         `yaml:"name"`
	Pattern     string         `yaml:"pattern"`
	Intent      string         `yaml:"intent"`
	ActionType  string         `yaml:"action_type"`
	ActionData  map[string]any `yaml:"action_data"`
	Priority    int            `yaml:"priority"`
	Description string         `yaml:"description"`
}

// loadSovereignTriggers walks brainDir for markdown files with YAML front
// matter declaring triggers. A missing or unreadable brainDir yields no
// triggers rather than an error — sovereign files are optional.
func loadSovereignTriggers(brainDir string) map[string]TriggerConfig {
	out := make(map[string]TriggerConfig)
	if brainDir == "" {
		return out
	}

	_ = filepath.WalkDir(brainDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		decls, parseErr := parseSovereignFrontMatter(path)
		if parseErr != nil {
			slog.Warn("skipping sovereign file with invalid front matter", "path", path, "error", parseErr)
			return nil
		}
		for _, decl := range decls {
			if decl.Pattern == "" || decl.Intent == "" {
				continue
			}
			name := decl.Name
			if name == "" {
				name = "sovereign:" + path + ":" + decl.Intent
			}
			out[name] = TriggerConfig{
				Pattern:     decl.Pattern,
				Intent:      decl.Intent,
				ActionType:  decl.ActionType,
				ActionData:  decl.ActionData,
				Priority:    decl.Priority,
				Description: decl.Description,
				Source:      path,
			}
		}
		return nil
	})
	return out
}

func parseSovereignFrontMatter(path string) ([]sovereignTriggerDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, nil
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return nil, nil
	}
	var fm sovereignFrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, err
	}
	return fm.Triggers, nil
}

// mergeSovereignTriggers layers sovereign-file-declared triggers under the
// already-merged built-in+YAML set. File declarations lose ties to YAML on
// pattern-name collision — triggers.yaml is authoritative, sovereign files
// are supplementary.
func mergeSovereignTriggers(merged map[string]*TriggerConfig, sovereign map[string]TriggerConfig) {
	for name, trig := range sovereign {
		if _, exists := merged[name]; exists {
			continue
		}
		trigCopy := trig
		merged[name] = &trigCopy
	}
}
