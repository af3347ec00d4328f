package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"companyprofiler/internal/chunker"
	"companyprofiler/internal/dispatch"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/search"
)

var errUpstream = errors.New("upstream provider error")

// countingDispatcher lets a test vary each successive reduce call's
// outcome, e.g. to simulate the first chunk failing and the rest
// succeeding.
type countingDispatcher struct {
	mu     sync.Mutex
	onCall func() (string, error)
}

func (c *countingDispatcher) Call(_ context.Context, _ string, _ llm.CompletionRequest, _ dispatch.Priority, _ time.Duration) (dispatch.CallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, err := c.onCall()
	if err != nil {
		return dispatch.CallResult{}, err
	}
	return dispatch.CallResult{Content: llm.CompletionResponse{Content: content}}, nil
}

func (c *countingDispatcher) CallWithRetry(ctx context.Context, provider string, req llm.CompletionRequest, priority dispatch.Priority, _ int, _ time.Duration, deadline time.Duration) (dispatch.CallResult, error) {
	return c.Call(ctx, provider, req, priority, deadline)
}

func (c *countingDispatcher) WeightedSelection(_ dispatch.Priority, k int) []string {
	providers := []string{"reduce-provider"}
	if k > len(providers) {
		k = len(providers)
	}
	return providers[:k]
}

func TestReduceChunksSucceedsWhenAllChunksSucceed(t *testing.T) {
	d := &fakeDispatcher{reduceContent: `{"name":"Acme Corp"}`}
	o := New(d, &fakeScraper{}, search.NewFakeClient(), nil, testChunkingConfig(), testPipelineConfig())

	chunks := []chunker.Chunk{{Index: 0, Content: "page one"}, {Index: 1, Content: "page two"}}
	partials, err := o.reduceChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, partials, 2)
	for _, p := range partials {
		require.Equal(t, "Acme Corp", p["name"])
	}
}

func TestReduceChunksToleratesMinorityFailures(t *testing.T) {
	calls := 0
	d := &countingDispatcher{
		onCall: func() (string, error) {
			calls++
			if calls == 1 {
				return "", errUpstream
			}
			return `{"name":"Acme Corp"}`, nil
		},
	}
	cfg := testPipelineConfig()
	cfg.ReduceMinSuccessRatio = 0.5
	o := New(d, &fakeScraper{}, search.NewFakeClient(), nil, testChunkingConfig(), cfg)

	chunks := []chunker.Chunk{{Index: 0, Content: "a"}, {Index: 1, Content: "b"}}
	partials, err := o.reduceChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, partials, 1)
}

func TestReduceChunksFailsBelowMinSuccessRatio(t *testing.T) {
	d := &fakeDispatcher{reduceErr: errUpstream}
	cfg := testPipelineConfig()
	cfg.ReduceMinSuccessRatio = 0.5
	o := New(d, &fakeScraper{}, search.NewFakeClient(), nil, testChunkingConfig(), cfg)

	chunks := []chunker.Chunk{{Index: 0, Content: "a"}, {Index: 1, Content: "b"}}
	_, err := o.reduceChunks(context.Background(), chunks)
	require.Error(t, err)
}

func TestReduceChunksFailsOnUnparseableJSON(t *testing.T) {
	d := &fakeDispatcher{reduceContent: `not json at all`}
	cfg := testPipelineConfig()
	cfg.ReduceMinSuccessRatio = 0.9
	o := New(d, &fakeScraper{}, search.NewFakeClient(), nil, testChunkingConfig(), cfg)

	chunks := []chunker.Chunk{{Index: 0, Content: "a"}}
	_, err := o.reduceChunks(context.Background(), chunks)
	require.Error(t, err)
}
