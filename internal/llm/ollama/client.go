// Package ollama implements llm.Client against a local Ollama server's
// native API, used for self-hosted models that aren't fronted by an
// OpenAI-compatible shim.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
)

// Client wraps the Ollama API client for one model.
type Client struct {
	sdk           *api.Client
	model         string
	name          string
	contextWindow int
}

// New creates an Ollama client. hostURL is the Ollama server address,
// e.g. "http://localhost:11434".
func New(hostURL, model string, contextWindow int) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		sdk:           api.NewClient(parsed, http.DefaultClient),
		model:         model,
		name:          "ollama",
		contextWindow: contextWindow,
	}
}

func (c *Client) Name() string           { return c.name }
func (c *Client) ContextWindow() int     { return c.contextWindow }
func (c *Client) SupportsJSONMode() bool { return true }

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.ResponseFormat == llm.JSONObject {
		chatReq.Format = []byte(`"json"`)
	}

	var resp api.ChatResponse
	err := c.sdk.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classify(err, c.name, c.model)
	}
	if resp.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindEmpty, c.name, c.model, "empty message content")
	}

	return llm.CompletionResponse{
		Content: resp.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func classify(err error, provider, model string) *llmerrors.Error {
	s := err.Error()
	switch {
	case strings.Contains(s, "connection refused"):
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err)
	case strings.Contains(s, "model") && strings.Contains(s, "not found"):
		return llmerrors.Wrap(llmerrors.KindBadRequest, provider, model, err)
	case strings.Contains(s, "context canceled"), strings.Contains(s, "context deadline exceeded"), strings.Contains(s, "timeout"):
		return llmerrors.Wrap(llmerrors.KindTimeout, provider, model, err)
	default:
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err)
	}
}
