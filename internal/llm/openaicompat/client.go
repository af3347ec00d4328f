// Package openaicompat implements llm.Client against any OpenAI
// Chat-Completions-compatible endpoint: OpenAI itself, Ollama's
// OpenAI-compatible API, and other self-hosted backends that speak the
// same wire format.
package openaicompat

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
)

// Client wraps an OpenAI-compatible chat completions endpoint.
type Client struct {
	sdk           openai.Client
	model         string
	name          string
	contextWindow int
	jsonMode      bool
}

// New creates an OpenAI-compatible client. name distinguishes the
// backend for logging/metrics ("openai", "ollama", or a self-hosted
// backend's configured name); jsonMode reports whether this backend
// accepts response_format=json_object (self-hosted llama.cpp-family
// servers frequently reject it).
func New(name, apiKey, model string, contextWindow int, baseURL string, jsonMode bool) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		sdk:           openai.NewClient(opts...),
		model:         model,
		name:          name,
		contextWindow: contextWindow,
		jsonMode:      jsonMode,
	}
}

func (c *Client) Name() string           { return c.name }
func (c *Client) ContextWindow() int     { return c.contextWindow }
func (c *Client) SupportsJSONMode() bool { return c.jsonMode }

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat == llm.JSONObject {
		if !c.jsonMode {
			return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindBadRequest, c.name, c.model,
				"backend does not support response_format=json_object")
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classify(err, c.name, c.model)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindEmpty, c.name, c.model, "empty choices in response")
	}

	return llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
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

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 401, 403, 404, 422:
			return llmerrors.Wrap(llmerrors.KindBadRequest, provider, model, err).WithStatus(apiErr.StatusCode)
		case 429:
			return llmerrors.Wrap(llmerrors.KindRateLimit, provider, model, err).WithStatus(apiErr.StatusCode)
		case 500, 502, 503, 504:
			return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err).WithStatus(apiErr.StatusCode)
		}
	}

	code := 0
	if m := statusCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	switch code {
	case 429:
		return llmerrors.Wrap(llmerrors.KindRateLimit, provider, model, err).WithStatus(code)
	case 400, 401, 403, 404:
		return llmerrors.Wrap(llmerrors.KindBadRequest, provider, model, err).WithStatus(code)
	default:
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err)
	}
}
