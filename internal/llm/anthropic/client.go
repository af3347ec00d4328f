// Package anthropic wraps the Anthropic SDK to implement llm.Client for
// Claude models.
package anthropic

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
)

// Client wraps an Anthropic SDK client for one model.
type Client struct {
	sdk           anthropic.Client
	model         anthropic.Model
	name          string
	contextWindow int
}

// New creates an Anthropic client. Retries are handled entirely by
// internal/retry; the SDK's own retry loop is disabled so the dispatcher
// has a single, consistent backoff policy across providers.
func New(apiKey, model string, contextWindow int) *Client {
	return &Client{
		sdk:           anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:         anthropic.Model(model),
		name:          "anthropic",
		contextWindow: contextWindow,
	}
}

func (c *Client) Name() string          { return c.name }
func (c *Client) ContextWindow() int    { return c.contextWindow }
func (c *Client) SupportsJSONMode() bool { return false } // Claude has no response_format=json_object mode

// Complete sends a completion request, extracting system messages into
// Anthropic's top-level system parameter since Claude rejects a system
// role inside the messages array.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	var systemPrompt string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += m.Content
		case llm.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}
	if req.ResponseFormat == llm.JSONObject {
		// Claude has no structured-output mode; the dispatcher's
		// reinforcement fallback carries this instruction instead.
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindBadRequest, c.name, string(c.model),
			"anthropic does not support response_format=json_object")
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classify(err, c.name, string(c.model))
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindEmpty, c.name, string(c.model), "empty response content")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindEmpty, c.name, string(c.model), "no text content in response")
	}

	return llm.CompletionResponse{
		Content: text,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

var statusCodeRe = regexp.MustCompile(`\b([1-5]\d{2})\b`)

func classify(err error, provider, model string) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.Wrap(llmerrors.KindTimeout, provider, model, err)
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.Wrap(llmerrors.KindTimeout, provider, model, err)
	}

	code := 0
	if m := statusCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}

	switch code {
	case 401, 403, 400, 404, 422:
		return llmerrors.Wrap(llmerrors.KindBadRequest, provider, model, err).WithStatus(code)
	case 429:
		return llmerrors.Wrap(llmerrors.KindRateLimit, provider, model, err).WithStatus(code)
	case 500, 502, 503, 504:
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err).WithStatus(code)
	default:
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err)
	}
}
