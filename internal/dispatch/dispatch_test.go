package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"companyprofiler/internal/config"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
)

type fakeClient struct {
	name          string
	contextWindow int
	jsonMode      bool
	complete      func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)
}

func (f *fakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return f.complete(ctx, req)
}
func (f *fakeClient) Name() string           { return f.name }
func (f *fakeClient) ContextWindow() int     { return f.contextWindow }
func (f *fakeClient) SupportsJSONMode() bool { return f.jsonMode }

func newTestDispatcher(t *testing.T, client *fakeClient, cfg config.Provider) *Dispatcher {
	t.Helper()
	d, err := New([]ProviderEntry{{Config: cfg, Client: client}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func basicProvider(name string) config.Provider {
	return config.Provider{
		Name:            name,
		Kind:            "openai_compatible",
		Model:           "gpt-4",
		ContextWindow:   128000,
		RPM:             1000,
		TPM:             1000000,
		Weight:          1,
		BaselineLatency: 1,
		Tier:            config.TierBoth,
	}
}

func TestCallSuccess(t *testing.T) {
	client := &fakeClient{name: "p1", complete: func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "ok", Usage: llm.Usage{PromptTokens: 10}}, nil
	}}
	d := newTestDispatcher(t, client, basicProvider("p1"))

	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{{Role: llm.RoleUser, Content: "hi"}}, MaxTokens: 100}
	result, err := d.Call(context.Background(), "p1", req, PriorityNormal, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content.Content != "ok" {
		t.Errorf("expected content %q, got %q", "ok", result.Content.Content)
	}
}

func TestCallUnknownProvider(t *testing.T) {
	d := newTestDispatcher(t, &fakeClient{name: "p1"}, basicProvider("p1"))
	_, err := d.Call(context.Background(), "missing", llm.CompletionRequest{}, PriorityNormal, time.Second)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestCallPreflightRejectsOversizedPrompt(t *testing.T) {
	cfg := basicProvider("p1")
	cfg.ContextWindow = 100
	cfg.SelfHosted = true // EffectiveSafeInputTokens = 80% of context window = 80
	client := &fakeClient{name: "p1", complete: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		t.Fatal("provider should not be called when preflight check fails")
		return llm.CompletionResponse{}, nil
	}}
	d := newTestDispatcher(t, client, cfg)

	huge := make([]llm.CompletionMessage, 0)
	for i := 0; i < 50; i++ {
		huge = append(huge, llm.CompletionMessage{Role: llm.RoleUser, Content: "this is a long line of filler text to push us over the token ceiling"})
	}
	_, err := d.Call(context.Background(), "p1", llm.CompletionRequest{Messages: huge}, PriorityNormal, time.Second)
	if !llmerrors.Is(err, llmerrors.KindBadRequest) {
		t.Fatalf("expected KindBadRequest, got %v", err)
	}
}

func TestCallJSONModeFallback(t *testing.T) {
	calls := 0
	client := &fakeClient{name: "p1", complete: func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if req.ResponseFormat == llm.JSONObject {
			return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindBadRequest, "p1", "m", "no json mode")
		}
		last := req.LastUserMessage()
		if last == nil || !strings.Contains(last.Content, "Return only a valid JSON object") {
			t.Fatal("expected reinforced user message on fallback")
		}
		return llm.CompletionResponse{Content: `{"ok":true}`}, nil
	}}
	d := newTestDispatcher(t, client, basicProvider("p1"))

	req := llm.CompletionRequest{
		Messages:       []llm.CompletionMessage{{Role: llm.RoleUser, Content: "give me json"}},
		ResponseFormat: llm.JSONObject,
		MaxTokens:      100,
	}
	result, err := d.Call(context.Background(), "p1", req, PriorityNormal, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (original + fallback), got %d", calls)
	}
	if result.Content.Content != `{"ok":true}` {
		t.Errorf("unexpected content: %q", result.Content.Content)
	}
}

func TestCallWithRetryStopsOnBadRequest(t *testing.T) {
	calls := 0
	client := &fakeClient{name: "p1", complete: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindBadRequest, "p1", "m", "bad prompt")
	}}
	d := newTestDispatcher(t, client, basicProvider("p1"))

	_, err := d.CallWithRetry(context.Background(), "p1", llm.CompletionRequest{MaxTokens: 10}, PriorityNormal, 5, time.Millisecond, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestCallWithRetryRetriesTransport(t *testing.T) {
	calls := 0
	client := &fakeClient{name: "p1", complete: func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if calls < 3 {
			return llm.CompletionResponse{}, llmerrors.New(llmerrors.KindTransport, "p1", "m", "connection reset")
		}
		return llm.CompletionResponse{Content: "recovered"}, nil
	}}
	d := newTestDispatcher(t, client, basicProvider("p1"))

	result, err := d.CallWithRetry(context.Background(), "p1", llm.CompletionRequest{MaxTokens: 10}, PriorityNormal, 5, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if result.Content.Content != "recovered" {
		t.Errorf("unexpected content: %q", result.Content.Content)
	}
}

func TestWeightedSelectionRespectsTier(t *testing.T) {
	highOnly := basicProvider("high")
	highOnly.Tier = config.TierHighOnly
	normalOnly := basicProvider("normal")
	normalOnly.Tier = config.TierNormalOnly

	d, err := New([]ProviderEntry{
		{Config: highOnly, Client: &fakeClient{name: "high"}},
		{Config: normalOnly, Client: &fakeClient{name: "normal"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	highPicks := d.WeightedSelection(PriorityHigh, 5)
	for _, p := range highPicks {
		if p != "high" {
			t.Errorf("expected only 'high' eligible for HIGH priority, got %q", p)
		}
	}

	normalPicks := d.WeightedSelection(PriorityNormal, 5)
	for _, p := range normalPicks {
		if p != "normal" {
			t.Errorf("expected only 'normal' eligible for NORMAL priority, got %q", p)
		}
	}
}

func TestHighGateBlocksNormalUntilDrained(t *testing.T) {
	g := newHighGate()
	releaseHigh := g.enter(context.Background(), PriorityHigh)

	done := make(chan struct{})
	go func() {
		release := g.enter(context.Background(), PriorityNormal)
		release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("normal caller proceeded while a HIGH call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	releaseHigh()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("normal caller never proceeded after HIGH drained")
	}
}
