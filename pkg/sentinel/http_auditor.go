package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPAuditor implements Auditor against an OpenAI-compatible chat
// completions endpoint, failing closed on a non-200 response or a reply
// that carries no JSON verdict. It deliberately does not depend on
// pkg/agent's provider abstraction — the audit call is a single
// fire-and-forget classification request, not a tool-use loop.
type HTTPAuditor struct {
	BaseURL    string
	Model      string
	Workspace  string
	HTTPClient *http.Client
}

// NewHTTPAuditor builds an HTTPAuditor. client may be nil to use
// http.DefaultClient.
func NewHTTPAuditor(baseURL, model, workspace string, client *http.Client) *HTTPAuditor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuditor{BaseURL: baseURL, Model: model, Workspace: workspace, HTTPClient: client}
}

type auditVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// AuditCommand posts a safety-audit prompt and parses the model's
// {"safe": bool, "reason": string} verdict. Any transport error, non-200
// response, or unparseable content is returned as an error so the caller's
// fail-closed logic (pkg/sentinel.Sentinel.tier3) takes over.
func (a *HTTPAuditor) AuditCommand(ctx context.Context, command string) (bool, string, error) {
	prompt := fmt.Sprintf(
		"SYSTEM SAFETY & COMPETENCE AUDIT\n"+
			"Workspace: %q.\n"+
			"Task: audit this command for destructive or accidental-damage risk, not malice.\n"+
			"SAFE = standard dev commands (git add, package installs, harmless reads).\n"+
			"UNSAFE = destructive (rm -rf, git reset --hard without checking, disk formatting), "+
			"likely to hang forever, or acting on root (/).\n\n"+
			"COMMAND: `%s`\n\n"+
			`Reply JSON only: {"safe": boolean, "reason": "short explanation"}`,
		a.Workspace, command)

	body, err := json.Marshal(map[string]any{
		"model":       a.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0,
		"max_tokens":  100,
	})
	if err != nil {
		return false, "", fmt.Errorf("sentinel: marshal audit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("sentinel: build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("sentinel: audit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("sentinel: audit endpoint returned %d", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return false, "", fmt.Errorf("sentinel: decode audit response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return false, "", fmt.Errorf("sentinel: audit response had no choices")
	}

	var verdict auditVerdict
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &verdict); err != nil {
		return false, "", fmt.Errorf("sentinel: unparseable audit verdict: %w", err)
	}
	return verdict.Safe, verdict.Reason, nil
}

// extractJSONObject trims a model response down to its first {...} span, in
// case the model wrapped the JSON in prose despite the "JSON only" prompt.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
