// Package format renders arbitrary tool-call results into the Markdown the
// Nexus Regulator's tool_end events and the Agent Engine's tool-result
// messages carry back to chat: a recursive "unwrap common wrappers, then
// render by shape" pass over Go's any/map value model.
package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

var mermaidKeywords = []string{
	"graph ", "sequenceDiagram", "classDiagram", "stateDiagram",
	"erDiagram", "gantt", "pie", "flowchart", "mindmap",
}

var unwrapKeys = []string{"result", "content", "data", "items"}

// ToolOutput renders data (already JSON-decoded: map[string]any,
// []any, string, float64, bool, nil) as Markdown, matching
// ResponseFormatter.format_tool_output's dispatch order: strings (with
// Mermaid/JSON sniffing) first, then map unwrapping, then list vs. scalar.
func ToolOutput(data any) string {
	switch v := data.(type) {
	case string:
		return formatString(v)
	case map[string]any:
		return formatMap(v)
	case []any:
		return formatList(v)
	case nil:
		return "_null_"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatString(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, kw := range mermaidKeywords {
		if strings.HasPrefix(trimmed, kw) {
			return "```mermaid\n" + s + "\n```"
		}
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return ToolOutput(parsed)
		}
	}
	return s
}

func formatMap(m map[string]any) string {
	// Single-key wrapper unwrap ("result"/"content"/"data"/"items").
	if len(m) == 1 {
		for _, key := range unwrapKeys {
			if v, ok := m[key]; ok {
				return ToolOutput(v)
			}
		}
	}

	if errVal, ok := m["error"]; ok {
		return formatError(errVal)
	}
	if v, ok := m["result"]; ok {
		return ToolOutput(v)
	}
	if v, ok := m["content"]; ok {
		return ToolOutput(v)
	}
	if t, ok := m["type"].(string); ok && t == "text" {
		if v, ok := m["text"]; ok {
			return ToolOutput(v)
		}
	}

	// Embedded base64 image: {mimeType: "image/...", data|blob: "..."}.
	if mime, ok := m["mimeType"].(string); ok && strings.HasPrefix(mime, "image/") {
		b64, _ := m["data"].(string)
		if b64 == "" {
			b64, _ = m["blob"].(string)
		}
		if b64 != "" {
			alt := "Embedded Image"
			if uri, ok := m["uri"].(string); ok && uri != "" {
				parts := strings.Split(uri, "/")
				alt = parts[len(parts)-1]
			}
			return fmt.Sprintf("![%s](data:%s;base64,%s)", alt, mime, b64)
		}
	}

	// Resource card: {uri, mimeType, text|blob}.
	if uri, ok := m["uri"].(string); ok {
		if mime, ok := m["mimeType"].(string); ok {
			parts := strings.Split(uri, "/")
			name := parts[len(parts)-1]
			card := fmt.Sprintf("### 📄 [%s](%s)\n_%s_", name, uri, mime)
			if text, ok := m["text"].(string); ok && text != "" {
				card += "\n\n" + text
			}
			return card
		}
	}

	return formatKeyValue(m)
}

func formatError(errVal any) string {
	switch e := errVal.(type) {
	case string:
		return fmt.Sprintf("**Error:** %s", e)
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return fmt.Sprintf("**Error:** %s", msg)
		}
	}
	return fmt.Sprintf("**Error:** %v", errVal)
}

func formatKeyValue(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("- **%s**: %s\n", k, inline(m[k])))
	}
	return strings.TrimRight(b.String(), "\n")
}

// inline renders a value for a key-value bullet line — nested structures
// are summarized rather than recursively expanded into their own blocks.
func inline(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return "`" + string(encoded) + "`"
	case nil:
		return "_null_"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatList(items []any) string {
	if len(items) == 0 {
		return "_Empty List_"
	}

	// MCP content list (TextContent/ImageContent): join, don't tabulate.
	if first, ok := items[0].(map[string]any); ok {
		if _, hasType := first["type"]; hasType {
			if _, hasText := first["text"]; hasText {
				return joinItems(items)
			}
			if _, hasData := first["data"]; hasData {
				return joinItems(items)
			}
		}
	}

	allMaps := true
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			allMaps = false
			break
		}
	}
	if allMaps {
		return formatTable(items)
	}

	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(ToolOutput(item))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinItems(items []any) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, ToolOutput(item))
	}
	return strings.Join(parts, "\n\n")
}

// formatTable renders a slice of uniform-ish maps as a Markdown table, the
// header row taken from the union of keys in document order of first
// appearance.
func formatTable(items []any) string {
	var cols []string
	seen := make(map[string]bool)
	for _, item := range items {
		m := item.(map[string]any)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, item := range items {
		m := item.(map[string]any)
		cells := make([]string, len(cols))
		for i, col := range cols {
			if v, ok := m[col]; ok {
				cells[i] = strings.ReplaceAll(inline(v), "|", "\\|")
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
