package search

import "context"

// FakeClient is an in-memory Client for pipeline tests: it returns
// canned results keyed by exact query string, with no network access.
type FakeClient struct {
	Responses map[string][]Result
}

// NewFakeClient builds a FakeClient with an empty response table; tests
// populate Responses directly.
func NewFakeClient() *FakeClient {
	return &FakeClient{Responses: make(map[string][]Result)}
}

func (f *FakeClient) Search(_ context.Context, query string) ([]Result, error) {
	results, ok := f.Responses[query]
	if !ok || len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}
