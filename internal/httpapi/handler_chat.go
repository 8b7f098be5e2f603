package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/delgross/ai-orchestrator-sub002/internal/apierrors"
	"github.com/delgross/ai-orchestrator-sub002/pkg/agent"
	"github.com/delgross/ai-orchestrator-sub002/pkg/events"
	"github.com/delgross/ai-orchestrator-sub002/pkg/nexus"
)

// ChatCompletionRequest is the POST /v1/chat/completions body.
type ChatCompletionRequest struct {
	Messages []agent.Message `json:"messages"`
	Model    string          `json:"model,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible completion object.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatCompletionUsage    `json:"usage"`
}

// ChatCompletionChoice is one completion choice.
type ChatCompletionChoice struct {
	Index        int           `json:"index"`
	Message      agent.Message `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChatCompletionUsage is the token accounting block.
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// resolveRequestID honors X-Request-ID or synthesizes an 8-char hex id.
func resolveRequestID(c *echo.Context) string {
	if id := c.Request().Header.Get("X-Request-ID"); id != "" && requestIDPattern.MatchString(id) {
		return id
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}

// chatCompletionsHandler implements POST /v1/chat/completions: it drives
// the Nexus Regulator's dispatch and folds the resulting event stream into
// a single completion object.
func (s *Server) chatCompletionsHandler(c *echo.Context) error {
	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apierrors.NewEnvelope(apierrors.ErrValidation))
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, apierrors.Envelope{Kind: "validation", Message: "messages is required"})
	}

	requestID := resolveRequestID(c)
	c.Response().Header().Set("X-Request-ID", requestID)

	stream := s.regulator.Dispatch(c.Request().Context(), nexus.Request{
		RequestID: requestID,
		Model:     req.Model,
		Messages:  req.Messages,
	})

	var content strings.Builder
	var toolOutputs []string
	var streamErr *events.StreamEvent
	for ev := range stream {
		s.publishEvent(c.Request().Context(), ev)
		switch ev.Type {
		case events.EventTypeToken:
			content.WriteString(ev.Delta)
		case events.EventTypeToolEnd:
			if ev.Output != "" {
				toolOutputs = append(toolOutputs, ev.Output)
			}
		case events.EventTypeErr:
			errCopy := ev
			streamErr = &errCopy
		}
	}

	if streamErr != nil && content.Len() == 0 && len(toolOutputs) == 0 {
		return c.JSON(http.StatusBadGateway, apierrors.Envelope{Kind: streamErr.ErrKind, Message: streamErr.ErrMsg})
	}

	// A pure trigger dispatch produces tool output but no tokens; the
	// completion then carries the rendered tool output.
	final := content.String()
	if final == "" && len(toolOutputs) > 0 {
		final = strings.Join(toolOutputs, "\n\n")
	}

	usage := s.budget.Finish(requestID)
	model := req.Model
	if model == "" {
		model = s.cfg.Defaults.LLMProvider
	}
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      agent.Message{Role: "assistant", Content: final},
			FinishReason: "stop",
		}},
		Usage: ChatCompletionUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	})
}
