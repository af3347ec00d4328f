// Package google implements llm.Client against the Gemini API.
package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
)

// Client wraps the Gemini client. The genai client requires a context
// to construct, so it's created lazily on first Complete call rather
// than in New, mirroring the teacher's deferred-construction pattern.
type Client struct {
	sdk           *genai.Client
	apiKey        string
	model         string
	name          string
	contextWindow int
}

// New creates a Gemini client for the given model.
func New(apiKey, model string, contextWindow int) *Client {
	return &Client{
		apiKey:        apiKey,
		model:         model,
		name:          "google",
		contextWindow: contextWindow,
	}
}

func (c *Client) Name() string           { return c.name }
func (c *Client) ContextWindow() int     { return c.contextWindow }
func (c *Client) SupportsJSONMode() bool { return true }

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.sdk == nil {
		sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.KindTransport, c.name, c.model, err)
		}
		c.sdk = sdk
	}

	contents, systemInstruction, err := convertMessages(req.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindBadRequest, c.name, c.model, err.Error())
	}

	temp := req.Temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if systemInstruction != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if req.ResponseFormat == llm.JSONObject {
		genConfig.ResponseMIMEType = "application/json"
	}

	result, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return llm.CompletionResponse{}, classify(err, c.name, c.model)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindEmpty, c.name, c.model, "empty response from gemini")
	}

	usage := llm.Usage{}
	if result.UsageMetadata != nil {
		usage.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(result.UsageMetadata.TotalTokenCount)
	}

	return llm.CompletionResponse{Content: result.Text(), Usage: usage}, nil
}

// convertMessages converts CompletionMessages to Gemini Content, pulling
// system messages out into a separate instruction since Gemini has no
// system role inside the contents array.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += msg.Content
			continue
		}

		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	return contents, systemInstruction, nil
}

func classify(err error, provider, model string) *llmerrors.Error {
	if err == nil {
		return nil
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED"):
		return llmerrors.Wrap(llmerrors.KindRateLimit, provider, model, err)
	case strings.Contains(s, "400") || strings.Contains(s, "INVALID_ARGUMENT") || strings.Contains(s, "401") || strings.Contains(s, "403"):
		return llmerrors.Wrap(llmerrors.KindBadRequest, provider, model, err)
	case strings.Contains(s, "context deadline exceeded") || strings.Contains(s, "DEADLINE_EXCEEDED"):
		return llmerrors.Wrap(llmerrors.KindTimeout, provider, model, err)
	default:
		return llmerrors.Wrap(llmerrors.KindTransport, provider, model, err)
	}
}
