package masking

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces every data/stringData value in a redacted
// Kubernetes Secret.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

var (
	yamlSecretKind = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretKind = regexp.MustCompile(`"kind"\s*:\s*"Secret"`)
)

// KubernetesSecretMasker redacts Secret manifests that MCP tools (kubectl
// get/describe, cluster dump helpers) hand back inside tool results, while
// leaving ConfigMaps and every other kind untouched. Both YAML (including
// multi-document streams) and JSON are handled, re-serialized in the same
// format they arrived in.
type KubernetesSecretMasker struct{}

// Name implements Masker.
func (m *KubernetesSecretMasker) Name() string { return "kubernetes_secret" }

// AppliesTo implements Masker: a substring sniff followed by a kind-line
// match, no parsing.
func (m *KubernetesSecretMasker) AppliesTo(data string) bool {
	return strings.Contains(data, "Secret") &&
		(yamlSecretKind.MatchString(data) || jsonSecretKind.MatchString(data))
}

// Mask implements Masker. Input that looks like JSON is handled by the JSON
// path first so it isn't silently rewritten into YAML; everything else goes
// through the multi-document YAML path. Fails open on any error.
func (m *KubernetesSecretMasker) Mask(data string) string {
	if trimmed := strings.TrimSpace(data); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if masked, err := m.maskJSON(data); err == nil {
			return masked
		}
		return data
	}
	if masked, err := m.maskYAML(data); err == nil {
		return masked
	}
	return data
}

// errNothingMasked signals that parsing succeeded but no Secret was found,
// so the caller should hand back the untouched input.
var errNothingMasked = errors.New("no secret content")

func (m *KubernetesSecretMasker) maskYAML(data string) (string, error) {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var docs []map[string]any
	touched := false
	for {
		var doc map[string]any
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		if doc == nil {
			continue
		}
		if redactDoc(doc) {
			touched = true
		}
		docs = append(docs, doc)
	}
	if !touched || len(docs) == 0 {
		return "", errNothingMasked
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range docs {
		if err := encoder.Encode(doc); err != nil {
			return "", err
		}
	}
	if err := encoder.Close(); err != nil {
		return "", err
	}
	return matchTrailingNewline(data, strings.TrimRight(buf.String(), "\n")), nil
}

func (m *KubernetesSecretMasker) maskJSON(data string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return "", err
	}
	if !redactDoc(doc) {
		return "", errNothingMasked
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return matchTrailingNewline(data, string(out)), nil
}

// matchTrailingNewline makes the re-serialized output end the same way the
// input did.
func matchTrailingNewline(original, masked string) string {
	if strings.HasSuffix(original, "\n") {
		return masked + "\n"
	}
	return masked
}

// redactDoc walks one decoded manifest and redacts whatever Secrets it
// holds: a bare Secret, a SecretList, or any *List whose items include
// Secrets. Reports whether anything changed.
func redactDoc(doc map[string]any) bool {
	kind, _ := doc["kind"].(string)
	switch {
	case kind == "Secret":
		redactSecret(doc)
		return true
	case kind == "SecretList" || strings.HasSuffix(kind, "List"):
		return redactListItems(doc)
	default:
		return false
	}
}

// redactListItems redacts the Secret entries of a List manifest.
func redactListItems(doc map[string]any) bool {
	items, _ := doc["items"].([]any)
	touched := false
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if kind, _ := entry["kind"].(string); kind == "Secret" || doc["kind"] == "SecretList" {
			redactSecret(entry)
			touched = true
		}
	}
	return touched
}

// redactSecret blanks a single Secret's data/stringData values and any
// Secret JSON embedded in its annotations (kubectl's
// last-applied-configuration carries a full copy).
func redactSecret(secret map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		if values, ok := secret[field].(map[string]any); ok {
			for key := range values {
				values[key] = MaskedSecretValue
			}
		}
	}
	redactAnnotationCopies(secret)
}

func redactAnnotationCopies(secret map[string]any) {
	metadata, _ := secret["metadata"].(map[string]any)
	annotations, _ := metadata["annotations"].(map[string]any)
	for key, val := range annotations {
		text, ok := val.(string)
		if !ok || !strings.Contains(text, "Secret") {
			continue
		}
		var embedded map[string]any
		if err := json.Unmarshal([]byte(text), &embedded); err != nil {
			continue
		}
		if kind, _ := embedded["kind"].(string); kind != "Secret" {
			continue
		}
		redactSecret(embedded)
		if masked, err := json.Marshal(embedded); err == nil {
			annotations[key] = string(masked)
		}
	}
}
