package nexus

import (
	"context"
	"fmt"

	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
)

// PlannedCall is one step of an auto_execute intent plan.
type PlannedCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Intent is the fast classifier's verdict for a query that matched no
// trigger.
type Intent struct {
	Kind        string        `json:"intent"` // prompt, help, restart, emoji, disable_<layer>, enable_<layer>, auto_execute
	AutoExecute []PlannedCall `json:"auto_execute,omitempty"`
}

// IntentClassifier classifies a chat query that matched no trigger.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, query string) (Intent, error)
}

// LLMIntentClassifier backs IntentClassifier with a single JSON-only call
// to a fast local model via the agent package's classifier client.
type LLMIntentClassifier struct {
	classifier *agent.ClassifierClient
}

// NewLLMIntentClassifier builds an LLMIntentClassifier.
func NewLLMIntentClassifier(classifier *agent.ClassifierClient) *LLMIntentClassifier {
	return &LLMIntentClassifier{classifier: classifier}
}

const intentSystemPrompt = `Classify the user's query. Reply with ONLY a JSON object:
{"intent": "prompt"|"help"|"restart"|"emoji"|"disable_chat"|"disable_system"|"disable_emoji"|"disable_ui_control"|"enable_chat"|"enable_system"|"enable_emoji"|"enable_ui_control"|"auto_execute",
 "auto_execute": [{"tool": "...", "args": {...}}]}
Use "auto_execute" only when the query maps cleanly onto one or two concrete tool calls; otherwise "prompt".`

// ClassifyIntent implements IntentClassifier.
func (c *LLMIntentClassifier) ClassifyIntent(ctx context.Context, query string) (Intent, error) {
	var out Intent
	if err := c.classifier.JSONCall(ctx, intentSystemPrompt, query, &out); err != nil {
		return Intent{}, fmt.Errorf("nexus: intent classification: %w", err)
	}
	if out.Kind == "" {
		out.Kind = "prompt"
	}
	return out, nil
}
