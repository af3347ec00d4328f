package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"companyprofiler/internal/logx"
)

const serperEndpoint = "https://google.serper.dev/search"

var log = logx.New("search")

// SerperClient queries the Serper Google-search API. It parses the
// response with gjson rather than binding to a generated struct, since
// Serper's result shape carries several optional sections (knowledge
// graph, organic, related searches) that this caller only ever needs
// one of.
type SerperClient struct {
	apiKey   string
	client   *http.Client
	endpoint string
	gl       string // country code, e.g. "br"
	hl       string // language code, e.g. "pt"
}

// NewSerperClient builds a client. gl/hl bias results toward a locality,
// matching the discovery step's "company name + locality" query pattern.
func NewSerperClient(apiKey, gl, hl string) *SerperClient {
	return &SerperClient{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: serperEndpoint,
		gl:       gl,
		hl:       hl,
	}
}

func (c *SerperClient) Search(ctx context.Context, query string) ([]Result, error) {
	return c.searchAgainst(ctx, c.endpoint, query)
}

func (c *SerperClient) searchAgainst(ctx context.Context, endpoint, query string) ([]Result, error) {
	body, err := buildRequestBody(query, c.gl, c.hl)
	if err != nil {
		return nil, fmt.Errorf("search: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: building request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warnf("serper returned status %d: %s", resp.StatusCode, string(raw))
		return nil, fmt.Errorf("search: serper status %d", resp.StatusCode)
	}

	results := parseOrganicResults(raw)
	log.Infof("serper returned %d results for %q", len(results), query)
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

type serperRequest struct {
	Query string `json:"q"`
	GL    string `json:"gl,omitempty"`
	HL    string `json:"hl,omitempty"`
}

func buildRequestBody(query, gl, hl string) ([]byte, error) {
	return json.Marshal(serperRequest{Query: query, GL: gl, HL: hl})
}

// parseOrganicResults extracts the "organic" array of a Serper response,
// truncated to a small count since only enough candidates to consolidate
// into one LLM prompt are useful.
func parseOrganicResults(raw []byte) []Result {
	const maxResults = 8
	organic := gjson.GetBytes(raw, "organic")
	if !organic.IsArray() {
		return nil
	}

	var out []Result
	organic.ForEach(func(_, value gjson.Result) bool {
		out = append(out, Result{
			Title:   value.Get("title").String(),
			Link:    value.Get("link").String(),
			Snippet: value.Get("snippet").String(),
		})
		return len(out) < maxResults
	})
	return out
}
