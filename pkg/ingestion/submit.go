package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GraphExtraction is the knowledge-graph extraction LLM's output.
type GraphExtraction struct {
	Entities  []map[string]any
	Relations []map[string]any
}

// GraphExtractor runs the knowledge-graph extraction LLM call. Kept as an
// interface for the same reason as Classifier/VisionDescriber.
type GraphExtractor interface {
	ExtractGraph(ctx context.Context, content string) (GraphExtraction, error)
}

// RetrievalClient is the HTTP client for the external retrieval backend's
// /ingest and /ingest/graph endpoints.
type RetrievalClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRetrievalClient builds a RetrievalClient. client may be nil to use
// http.DefaultClient.
func NewRetrievalClient(baseURL string, client *http.Client) *RetrievalClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RetrievalClient{BaseURL: baseURL, HTTPClient: client}
}

type ingestRequest struct {
	Filename    string         `json:"filename"`
	Content     string         `json:"content"`
	KBID        string         `json:"kb_id"`
	Metadata    map[string]any `json:"metadata"`
	PrependText string         `json:"prepend_text"`
}

// Ingest POSTs a file's extracted, enriched content to {BaseURL}/ingest.
// prependText is the global summary prefixed
// "[DOCUMENT SUMMARY: …]" when present.
func (c *RetrievalClient) Ingest(ctx context.Context, filename, content, kbID string, metadata map[string]any, globalSummary string) error {
	prepend := ""
	if globalSummary != "" {
		prepend = "[DOCUMENT SUMMARY: " + globalSummary + "] "
	}
	body, err := json.Marshal(ingestRequest{Filename: filename, Content: content, KBID: kbID, Metadata: metadata, PrependText: prepend})
	if err != nil {
		return fmt.Errorf("ingestion: marshal ingest request: %w", err)
	}
	return c.post(ctx, "/ingest", body)
}

type graphIngestRequest struct {
	Entities   []map[string]any `json:"entities"`
	Relations  []map[string]any `json:"relations"`
	OriginFile string           `json:"origin_file"`
}

// IngestGraph POSTs extracted entities/relations to {BaseURL}/ingest/graph,
// only called when the extraction returned a non-empty result.
func (c *RetrievalClient) IngestGraph(ctx context.Context, originFile string, g GraphExtraction) error {
	if len(g.Entities) == 0 && len(g.Relations) == 0 {
		return nil
	}
	body, err := json.Marshal(graphIngestRequest{Entities: g.Entities, Relations: g.Relations, OriginFile: originFile})
	if err != nil {
		return fmt.Errorf("ingestion: marshal graph request: %w", err)
	}
	return c.post(ctx, "/ingest/graph", body)
}

func (c *RetrievalClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ingestion: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ingestion: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
