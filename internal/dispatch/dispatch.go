// Package dispatch turns a logical completion request into a concrete
// provider call: priority gating, per-provider concurrency, rate
// limiting, context-window pre-flight checks, typed retry, and
// structured-output fallback.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"companyprofiler/internal/config"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/llmerrors"
	"companyprofiler/internal/logx"
	"companyprofiler/internal/ratelimit"
	"companyprofiler/internal/retry"
	"companyprofiler/internal/tokenaccount"
)

// Priority selects which logical queue a call belongs to. HIGH calls
// (discovery) drain before any NORMAL call (profile reduction) proceeds.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

const (
	defaultSemaphoreHardCap = 32
	semaphoreFloor          = 1
	tokenDivergenceWarnPct  = 0.10
)

type providerHandle struct {
	client  llm.Client
	cfg     config.Provider
	counter *tokenaccount.Counter
	sem     chan struct{}
}

// Dispatcher is the process-wide provider gateway. One instance is
// shared across all jobs a worker processes concurrently.
type Dispatcher struct {
	providers map[string]*providerHandle
	order     []string // stable iteration order for weighted selection
	limiters  *ratelimit.Map
	log       *logx.Logger

	highGate *highGate
}

// ProviderEntry pairs a configured provider with its client implementation.
type ProviderEntry struct {
	Config config.Provider
	Client llm.Client
}

// New builds a Dispatcher from a set of configured providers.
func New(entries []ProviderEntry) (*Dispatcher, error) {
	limiterConfigs := make(map[string]ratelimit.Config, len(entries))
	providers := make(map[string]*providerHandle, len(entries))
	order := make([]string, 0, len(entries))

	for _, e := range entries {
		counter, err := tokenaccount.NewCounter(e.Config.Model)
		if err != nil {
			return nil, fmt.Errorf("dispatch: building token counter for %s: %w", e.Config.Name, err)
		}

		size := semaphoreSize(e.Config)
		providers[e.Config.Name] = &providerHandle{
			client:  e.Client,
			cfg:     e.Config,
			counter: counter,
			sem:     make(chan struct{}, size),
		}
		order = append(order, e.Config.Name)
		limiterConfigs[e.Config.Name] = ratelimit.Config{RPM: e.Config.RPM, TPM: e.Config.TPM}
	}

	return &Dispatcher{
		providers: providers,
		order:     order,
		limiters:  ratelimit.NewMap(limiterConfigs),
		log:       logx.New("dispatch"),
		highGate:  newHighGate(),
	}, nil
}

// semaphoreSize implements min(hard_cap, max(floor, rpm*margin/baseline_latency)).
func semaphoreSize(p config.Provider) int {
	latency := p.BaselineLatency
	if latency <= 0 {
		latency = 1
	}
	size := int(float64(p.RPM) * p.EffectiveSafetyMargin() / latency)
	if size < semaphoreFloor {
		size = semaphoreFloor
	}
	if size > defaultSemaphoreHardCap {
		size = defaultSemaphoreHardCap
	}
	return size
}

// CallResult reports a completed call's content and wall-clock latency.
type CallResult struct {
	Content llm.CompletionResponse
	Latency time.Duration
}

// Call sends messages to providerName, respecting priority gating,
// concurrency, rate limits, and the context-window pre-flight check. A
// JSON-format request that hits BadRequest is retried once without the
// format and with a reinforcement instruction appended, to tolerate
// backends that advertise but don't implement structured output.
func (d *Dispatcher) Call(ctx context.Context, providerName string, req llm.CompletionRequest, priority Priority, deadline time.Duration) (CallResult, error) {
	handle, ok := d.providers[providerName]
	if !ok {
		return CallResult{}, fmt.Errorf("dispatch: unknown provider %q", providerName)
	}

	release := d.highGate.enter(ctx, priority)
	defer release()

	estimated := handle.counter.CountMessages(req.Messages)
	if estimated > handle.cfg.EffectiveSafeInputTokens() {
		return CallResult{}, llmerrors.New(llmerrors.KindBadRequest, handle.cfg.Name, handle.cfg.Model,
			fmt.Sprintf("estimated %d prompt tokens exceeds safe input ceiling %d", estimated, handle.cfg.EffectiveSafeInputTokens()))
	}

	limiter, err := d.limiters.Get(providerName)
	if err != nil {
		return CallResult{}, fmt.Errorf("dispatch: %w", err)
	}
	if err := limiter.Acquire(ctx, estimated, deadline); err != nil {
		return CallResult{}, llmerrors.Wrap(llmerrors.KindRateLimit, handle.cfg.Name, handle.cfg.Model, err)
	}

	select {
	case handle.sem <- struct{}{}:
	case <-ctx.Done():
		return CallResult{}, llmerrors.Wrap(llmerrors.KindTimeout, handle.cfg.Name, handle.cfg.Model, ctx.Err())
	}
	defer func() { <-handle.sem }()

	start := time.Now()
	resp, err := handle.client.Complete(ctx, req)
	latency := time.Since(start)

	if err != nil && req.ResponseFormat == llm.JSONObject && llmerrors.Is(err, llmerrors.KindBadRequest) {
		d.log.Warnf("provider %s rejected json mode, retrying without it", providerName)
		fallback := req
		fallback.ResponseFormat = llm.FreeText
		fallback.Messages = append([]llm.CompletionMessage(nil), req.Messages...)
		if last := fallback.LastUserMessage(); last != nil {
			last.Content += "\n\nReturn only a valid JSON object; no markdown, no prose."
		}
		start = time.Now()
		resp, err = handle.client.Complete(ctx, fallback)
		latency = time.Since(start)
	}

	if err != nil {
		logDetail(d.log, providerName, err)
		return CallResult{}, err
	}

	d.checkDivergence(providerName, estimated, resp.Usage.PromptTokens)
	return CallResult{Content: resp, Latency: latency}, nil
}

// CallWithRetry wraps Call with exponential backoff on retryable errors,
// via internal/retry's policy so the attempt/delay/classification logic
// lives in one place instead of being hand-rolled per caller. maxAttempts
// is the total number of attempts including the initial call; baseBackoff
// seeds the policy's exponential delay, capped at 10x itself.
func (d *Dispatcher) CallWithRetry(ctx context.Context, providerName string, req llm.CompletionRequest, priority Priority, maxAttempts int, baseBackoff time.Duration, deadline time.Duration) (CallResult, error) {
	policy := &retry.Policy{
		Classifier: func(err error) bool { return llmerrors.KindOf(err).Retryable() },
		Base:       baseBackoff,
		Max:        10 * baseBackoff,
		Attempts:   maxAttempts - 1,
	}

	var result CallResult
	err := retry.Do(ctx, policy, func() error {
		var callErr error
		result, callErr = d.Call(ctx, providerName, req, priority, deadline)
		return callErr
	})
	if err != nil {
		return CallResult{}, err
	}
	return result, nil
}

// WeightedSelection returns up to k provider names eligible for priority,
// ordered by a weighted-random shuffle (Efraimidis-Spirakis) so repeated
// calls spread load proportionally to configured weight without always
// picking the same heaviest provider first.
func (d *Dispatcher) WeightedSelection(priority Priority, k int) []string {
	type scored struct {
		name string
		key  float64
	}
	var candidates []scored
	for _, name := range d.order {
		h := d.providers[name]
		eligible := h.cfg.ServesNormal()
		if priority == PriorityHigh {
			eligible = h.cfg.ServesHigh()
		}
		if !eligible || h.cfg.Weight <= 0 {
			continue
		}
		u := rand.Float64()
		if u <= 0 {
			u = 1e-9
		}
		key := math.Pow(u, 1/float64(h.cfg.Weight))
		candidates = append(candidates, scored{name: name, key: key})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].key > candidates[j].key })

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].name
	}
	return out
}

func (d *Dispatcher) checkDivergence(provider string, estimated, actual int) {
	if actual <= 0 || estimated <= 0 {
		return
	}
	diff := math.Abs(float64(actual-estimated)) / float64(estimated)
	if diff > tokenDivergenceWarnPct {
		d.log.Warnf("provider %s token estimate diverged %.0f%% (estimated=%d actual=%d)", provider, diff*100, estimated, actual)
	}
}

// logDetail extracts a human-readable detail from a provider error body
// when one is embedded as JSON, without binding to any one provider's
// Go error struct shape.
func logDetail(log *logx.Logger, provider string, err error) {
	msg := err.Error()
	if !strings.Contains(msg, "{") {
		log.Warnf("provider %s call failed: %v", provider, err)
		return
	}
	detail := gjson.Get(msg, "error.message")
	if !detail.Exists() {
		detail = gjson.Get(msg, "message")
	}
	if detail.Exists() {
		log.Warnf("provider %s call failed: %s", provider, detail.String())
		return
	}
	log.Warnf("provider %s call failed: %v", provider, err)
}
