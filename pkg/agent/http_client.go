package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/delgross/ai-orchestrator-sub002/internal/config"
)

// HTTPClient speaks the OpenAI-compatible /v1/chat/completions wire format
// against a provider resolved behind ROUTER_BASE/GATEWAY_BASE.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewHTTPClient resolves provider against the system config's base URLs.
// Resolution order for the base URL: provider.BaseURL, then ROUTER_BASE or
// GATEWAY_BASE per the provider type.
func NewHTTPClient(provider *config.LLMProviderConfig, sys *config.SystemConfig) (*HTTPClient, error) {
	base := provider.BaseURL
	if base == "" {
		switch provider.Type {
		case config.LLMProviderTypeGateway:
			base = sys.GatewayBase
		default:
			base = sys.RouterBase
		}
	}
	if base == "" {
		return nil, fmt.Errorf("llm provider %q: no base URL configured (set ROUTER_BASE/GATEWAY_BASE or base_url)", provider.Model)
	}

	timeout := time.Duration(provider.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	apiKey := ""
	if provider.APIKeyEnv != "" {
		apiKey = os.Getenv(provider.APIKeyEnv)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  apiKey,
		model:   provider.Model,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// wire structures for the completions endpoint.
type wireResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Complete implements LLMClient.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = false

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("agent: decode completion: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("agent: provider returned no choices")
	}
	return &CompletionResponse{Message: wire.Choices[0].Message, Usage: wire.Usage}, nil
}

// Stream implements LLMClient: it parses the provider's SSE frames,
// accumulating fragmented tool-call arguments by index until the stream
// finishes.
func (c *HTTPClient) Stream(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = true

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		pending := make(map[int]*ToolCall)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chunk wireStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				out <- Chunk{Err: fmt.Errorf("agent: bad stream frame: %w", err)}
				return
			}
			if chunk.Usage != nil {
				out <- Chunk{Usage: chunk.Usage}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				out <- Chunk{Delta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				entry, ok := pending[tc.Index]
				if !ok {
					entry = &ToolCall{Type: "function"}
					pending[tc.Index] = entry
				}
				if tc.ID != "" {
					entry.ID = tc.ID
				}
				if tc.Function.Name != "" {
					entry.Function.Name = tc.Function.Name
				}
				entry.Function.Arguments += tc.Function.Arguments
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Err: fmt.Errorf("agent: stream read: %w", err)}
			return
		}

		if len(pending) > 0 {
			indexes := make([]int, 0, len(pending))
			for i := range pending {
				indexes = append(indexes, i)
			}
			sort.Ints(indexes)
			calls := make([]ToolCall, 0, len(pending))
			for _, i := range indexes {
				calls = append(calls, *pending[i])
			}
			out <- Chunk{ToolCalls: calls}
		}
		out <- Chunk{Done: true}
	}()
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, req CompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent: provider request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("agent: provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}
