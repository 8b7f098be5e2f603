package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/delgross/ai-orchestrator-sub002/pkg/ingestion"
	"github.com/delgross/ai-orchestrator-sub002/pkg/memory"
)

// ClassifierClient wraps a fast LLM provider for the single-shot JSON
// classification calls the ingestion pipeline, memory consolidation, and
// Nexus intent classification make. These are one-round-trip calls, not
// agent turns — no tools, no iteration.
type ClassifierClient struct {
	llm LLMClient
}

// NewClassifierClient builds a ClassifierClient over llm.
func NewClassifierClient(llm LLMClient) *ClassifierClient {
	return &ClassifierClient{llm: llm}
}

// JSONCall runs one completion and decodes the first JSON object in the
// reply into out, tolerating models that wrap JSON in prose or fences.
func (c *ClassifierClient) JSONCall(ctx context.Context, system, user string, out any) error {
	resp, err := c.llm.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return err
	}
	raw := extractJSONObject(resp.Message.Content)
	if raw == "" {
		return fmt.Errorf("agent: classifier reply carried no JSON object")
	}
	return json.Unmarshal([]byte(raw), out)
}

// extractJSONObject returns the first balanced {...} block in s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '{':
			depth++
		case !inString && ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Classify implements pkg/ingestion.Classifier.
func (c *ClassifierClient) Classify(ctx context.Context, filename, contentSnippet string) (ingestion.Classification, error) {
	const system = `You are a document librarian. Reply with ONLY a JSON object:
{"kb_id": "<short partition name>", "authority": <0..1>, "global_summary": "<one sentence>", "shadow_tags": ["<keyword>", ...]}`

	var out struct {
		KBID          string   `json:"kb_id"`
		Authority     float64  `json:"authority"`
		GlobalSummary string   `json:"global_summary"`
		ShadowTags    []string `json:"shadow_tags"`
	}
	user := fmt.Sprintf("Filename: %s\n\nContent:\n%s", filename, contentSnippet)
	if err := c.JSONCall(ctx, system, user, &out); err != nil {
		return ingestion.Classification{}, err
	}
	return ingestion.Classification{
		KBID:          out.KBID,
		Authority:     out.Authority,
		GlobalSummary: out.GlobalSummary,
		ShadowTags:    out.ShadowTags,
	}, nil
}

// ExtractGraph implements pkg/ingestion.GraphExtractor.
func (c *ClassifierClient) ExtractGraph(ctx context.Context, content string) (ingestion.GraphExtraction, error) {
	const system = `Extract a knowledge graph from the document. Reply with ONLY a JSON object:
{"entities": [{"name": "...", "type": "..."}], "relations": [{"source": "...", "relation": "...", "target": "..."}]}
Return empty arrays when nothing meaningful is present.`

	snippet := content
	if len(snippet) > 6000 {
		snippet = snippet[:6000]
	}
	var out struct {
		Entities  []map[string]any `json:"entities"`
		Relations []map[string]any `json:"relations"`
	}
	if err := c.JSONCall(ctx, system, snippet, &out); err != nil {
		return ingestion.GraphExtraction{}, err
	}
	return ingestion.GraphExtraction{Entities: out.Entities, Relations: out.Relations}, nil
}

// DescribeImage implements pkg/ingestion.VisionDescriber by sending a
// base64 data URL to the vision-capable provider.
func (c *ClassifierClient) DescribeImage(ctx context.Context, imageBytes []byte, prompt string) (string, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)
	resp, err := c.llm.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "user", Content: prompt + "\n\n" + dataURL},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// ExtractFacts implements pkg/memory.FactExtractor for the episode
// consolidation task.
func (c *ClassifierClient) ExtractFacts(ctx context.Context, kbID string, messages []byte) ([]memory.ExtractedFact, error) {
	const system = `Extract durable facts from this conversation as (entity, relation, target) triples. Reply with ONLY a JSON object:
{"facts": [{"entity": "...", "relation": "...", "target": "...", "context": "...", "confidence": <0..1>}]}
Only include facts worth remembering beyond this conversation.`

	snippet := string(messages)
	if len(snippet) > 8000 {
		snippet = snippet[:8000]
	}
	var out struct {
		Facts []struct {
			Entity     string  `json:"entity"`
			Relation   string  `json:"relation"`
			Target     string  `json:"target"`
			Context    string  `json:"context"`
			Confidence float64 `json:"confidence"`
		} `json:"facts"`
	}
	if err := c.JSONCall(ctx, system, snippet, &out); err != nil {
		return nil, err
	}
	facts := make([]memory.ExtractedFact, 0, len(out.Facts))
	for _, f := range out.Facts {
		if f.Entity == "" || f.Relation == "" || f.Target == "" {
			continue
		}
		facts = append(facts, memory.ExtractedFact{
			Entity:     f.Entity,
			Relation:   f.Relation,
			Target:     f.Target,
			Context:    f.Context,
			Confidence: f.Confidence,
		})
	}
	return facts, nil
}

// AuditFact returns "supported", "contradicted", or "unknown" for a single
// fact, backing the fact-confidence audit task.
func (c *ClassifierClient) AuditFact(ctx context.Context, entity, relation, target, factContext string) (string, error) {
	const system = `Judge whether the stated fact is supported or contradicted by its recorded context. Reply with ONLY a JSON object: {"verdict": "supported"|"contradicted"|"unknown"}`

	user := fmt.Sprintf("Fact: %s %s %s\nContext: %s", entity, relation, target, factContext)
	var out struct {
		Verdict string `json:"verdict"`
	}
	if err := c.JSONCall(ctx, system, user, &out); err != nil {
		return "", err
	}
	return out.Verdict, nil
}
