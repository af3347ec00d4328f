// Package config loads the worker fleet's layered configuration:
// defaults, then a JSON file, then environment variable overrides for
// secrets, validated eagerly at startup.
package config

import (
	"fmt"
	"os"
)

// Tier controls which dispatcher priority queues a provider serves.
type Tier string

const (
	TierHighOnly   Tier = "high_only"
	TierNormalOnly Tier = "normal_only"
	TierBoth       Tier = "both"
)

// Provider describes one configured LLM backend.
type Provider struct {
	Name            string  `json:"name"`
	Kind            string  `json:"kind"` // anthropic | openai | ollama | google | openai_compatible
	BaseURL         string  `json:"base_url,omitempty"`
	Model           string  `json:"model"`
	APIKeyEnv       string  `json:"api_key_env"`
	ContextWindow   int     `json:"context_window"`
	RPM             int     `json:"rpm"`
	TPM             int     `json:"tpm"`
	Weight          int     `json:"weight"`
	HighPriority    bool    `json:"high_priority_eligible"`
	SelfHosted      bool    `json:"self_hosted"`
	BaselineLatency float64 `json:"baseline_latency_seconds"`
	SafetyMargin    float64 `json:"safety_margin"`
	Tier            Tier    `json:"tier"`
	SafeInputTokens int     `json:"safe_input_tokens,omitempty"`
}

// EffectiveSafeInputTokens returns the input-token ceiling the dispatcher's
// pre-flight check enforces. Self-hosted backends without an explicit
// override default to 80% of the context window; configured providers use
// whatever safe_input_tokens the operator declared, or the full context
// window if they didn't bother declaring one.
func (p Provider) EffectiveSafeInputTokens() int {
	if p.SafeInputTokens > 0 {
		return p.SafeInputTokens
	}
	if p.SelfHosted {
		return int(float64(p.ContextWindow) * 0.8)
	}
	return p.ContextWindow
}

// ServesHigh reports whether this provider accepts HIGH-priority calls.
func (p Provider) ServesHigh() bool {
	return p.Tier == TierHighOnly || p.Tier == TierBoth || (p.Tier == "" && p.HighPriority)
}

// ServesNormal reports whether this provider accepts NORMAL-priority calls.
func (p Provider) ServesNormal() bool {
	return p.Tier == TierNormalOnly || p.Tier == TierBoth || p.Tier == ""
}

// EffectiveSafetyMargin returns the configured safety margin, defaulting
// to 0.8 when unset so semaphore sizing never divides by zero.
func (p Provider) EffectiveSafetyMargin() float64 {
	if p.SafetyMargin <= 0 || p.SafetyMargin > 1 {
		return 0.8
	}
	return p.SafetyMargin
}

// APIKey resolves this provider's API key from its configured
// environment variable. Self-hosted backends may have no key at all.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ChunkingConfig controls the content chunker (Component D), grounded on
// the original profile builder's chunking configuration file.
type ChunkingConfig struct {
	CharsPerToken        int     `json:"chars_per_token"`
	SystemPromptOverhead int     `json:"system_prompt_overhead"`
	MessageOverhead      int     `json:"message_overhead"`
	MaxChunkTokens       int     `json:"max_chunk_tokens"`
	SafetyMargin         float64 `json:"safety_margin"`
	GroupTargetTokens    int     `json:"group_target_tokens"`
	MinLineLength        int     `json:"min_line_length"`
	MaxBlankLineRun      int     `json:"max_blank_line_run"`
	DedupeScope          string  `json:"dedupe_scope"` // "document" | "consecutive"
}

// DefaultChunkingConfig matches the original profile builder's defaults:
// a 500K token ceiling and a 100K group target. GroupTargetTokens is
// carried in the config but not read by the chunker, which packs each
// group up to the effective token budget.
var DefaultChunkingConfig = ChunkingConfig{
	CharsPerToken:        3,
	SystemPromptOverhead: 2500,
	MessageOverhead:      200,
	MaxChunkTokens:       500_000,
	SafetyMargin:         0.85,
	GroupTargetTokens:    100_000,
	MinLineLength:        3,
	MaxBlankLineRun:      2,
	DedupeScope:          "document",
}

// ScraperConfig controls the scraper core (Component E).
type ScraperConfig struct {
	MaxSubpages            int      `json:"max_subpages"`
	MinSubpageScore        float64  `json:"min_subpage_score"`
	SiteConcurrency        int      `json:"site_concurrency"`
	SubpageConcurrency     int      `json:"subpage_concurrency"`
	SoftFailureMinChars    int      `json:"soft_failure_min_chars"`
	CircuitFailureThresh   int      `json:"circuit_failure_threshold"`
	CircuitCooldownSeconds int      `json:"circuit_cooldown_seconds"`
	CircuitMapTTLSeconds   int      `json:"circuit_map_ttl_seconds"`
	Proxies                []string `json:"proxies"`
	UserAgents             []string `json:"user_agents"`
	RenderEndpoint         string   `json:"render_endpoint"` // optional headless-render sidecar; empty disables strategy 1
	CurlPath               string   `json:"curl_path"`
	FetchTimeoutSeconds    int      `json:"fetch_timeout_seconds"`
	HighPriorityKeywords   []string `json:"high_priority_keywords"`
	LowPriorityKeywords    []string `json:"low_priority_keywords"`
}

// DefaultScraperConfig matches original_source/app/services/scraper.py:
// subpage concurrency of 10, a soft-404 threshold of 200 characters, and
// the localized keyword lists used to score candidate subpages.
var DefaultScraperConfig = ScraperConfig{
	MaxSubpages:            100,
	MinSubpageScore:        1.0,
	SiteConcurrency:        5,
	SubpageConcurrency:     10,
	SoftFailureMinChars:    200,
	CircuitFailureThresh:   5,
	CircuitCooldownSeconds: 120,
	CircuitMapTTLSeconds:   3600,
	CurlPath:               "curl",
	FetchTimeoutSeconds:    20,
	UserAgents: []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	},
	HighPriorityKeywords: []string{
		"quem-somos", "sobre", "institucional",
		"portfolio", "produto", "servico", "solucoes", "atuacao", "tecnologia",
		"clientes", "cases", "projetos", "obras", "certificacoes", "premios", "parceiros",
		"equipe", "time", "lideranca", "contato", "fale-conosco", "unidades",
	},
	LowPriorityKeywords: []string{
		"login", "signin", "cart", "policy", "blog", "news",
		"politica-privacidade", "termos",
	},
}

// PipelineConfig controls the orchestrator (Component F).
type PipelineConfig struct {
	JobDeadlineSeconds      int      `json:"job_deadline_seconds"`
	DiscoveryLLMTimeoutSec  int      `json:"discovery_llm_timeout_seconds"`
	DiscoveryProbeTimeoutMs int      `json:"discovery_probe_timeout_ms"`
	DiscoveryProviders      []string `json:"discovery_providers"`       // ordered: primary, then backup on failure
	ReduceProviders         []string `json:"reduce_providers"`          // NORMAL-eligible providers offered to weighted selection
	ReduceConcurrency       int      `json:"reduce_concurrency"`        // bounded parallelism across chunk reductions
	ReduceMinSuccessRatio   float64  `json:"reduce_min_success_ratio"`  // below this fraction of successful chunks, fail the job
	ReduceMaxRetries        int      `json:"reduce_max_retries"`
	ReduceRetryBaseDelayMs  int      `json:"reduce_retry_base_delay_ms"`
}

// DefaultPipelineConfig matches spec.md's default end-to-end deadline.
var DefaultPipelineConfig = PipelineConfig{
	JobDeadlineSeconds:      300,
	DiscoveryLLMTimeoutSec:  35,
	DiscoveryProbeTimeoutMs: 5000,
	ReduceConcurrency:       3,
	ReduceMinSuccessRatio:   0.5,
	ReduceMaxRetries:        2,
	ReduceRetryBaseDelayMs:  500,
}

// Config is the worker fleet's fully resolved configuration.
type Config struct {
	Providers []Provider     `json:"providers"`
	Chunking  ChunkingConfig `json:"chunking"`
	Scraper   ScraperConfig  `json:"scraper"`
	Pipeline  PipelineConfig `json:"pipeline"`
	SerperAPIKeyEnv string   `json:"serper_api_key_env"`
}

// Validate checks that the resolved configuration is usable, failing
// fast at startup rather than surfacing a missing key mid-job.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one LLM provider must be configured")
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider entry missing name")
		}
		if p.ContextWindow <= 0 {
			return fmt.Errorf("config: provider %s: context_window must be positive", p.Name)
		}
		if p.RPM <= 0 || p.TPM <= 0 {
			return fmt.Errorf("config: provider %s: rpm and tpm must be positive", p.Name)
		}
		if !p.SelfHosted && p.APIKeyEnv != "" && p.APIKey() == "" {
			return fmt.Errorf("config: provider %s: environment variable %s is not set", p.Name, p.APIKeyEnv)
		}
	}
	if c.Chunking.MaxChunkTokens <= c.Chunking.SystemPromptOverhead {
		return fmt.Errorf("config: chunking.max_chunk_tokens must exceed system_prompt_overhead")
	}
	return nil
}

// EffectiveMaxTokens returns the chunking budget left for content after
// reserving space for the system prompt and per-message formatting
// overhead, scaled by the configured safety margin:
// (max_chunk_tokens - system_prompt_overhead - message_overhead) * safety_margin.
func (c ChunkingConfig) EffectiveMaxTokens() int {
	margin := c.SafetyMargin
	if margin <= 0 || margin > 1 {
		margin = 0.85
	}
	base := c.MaxChunkTokens - c.SystemPromptOverhead - c.MessageOverhead
	if base <= 0 {
		base = int(float64(c.MaxChunkTokens) * 0.8)
	}
	return int(float64(base) * margin)
}
