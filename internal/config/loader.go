package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads a JSON config file and layers it over the package defaults
// for chunking, scraper, and pipeline settings (providers have no
// defaults — they must be fully specified in the file, since there's no
// sensible default API key or model).
func Load(path string) (*Config, error) {
	cfg := &Config{
		Chunking: DefaultChunkingConfig,
		Scraper:  DefaultScraperConfig,
		Pipeline: DefaultPipelineConfig,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var overlay struct {
		Providers       []Provider             `json:"providers"`
		Chunking        map[string]json.RawMessage `json:"chunking"`
		Scraper         map[string]json.RawMessage `json:"scraper"`
		Pipeline        map[string]json.RawMessage `json:"pipeline"`
		SerperAPIKeyEnv string                 `json:"serper_api_key_env"`
	}
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.Providers = overlay.Providers
	cfg.SerperAPIKeyEnv = overlay.SerperAPIKeyEnv

	if len(overlay.Chunking) > 0 {
		if err := mergeJSON(&cfg.Chunking, overlay.Chunking); err != nil {
			return nil, fmt.Errorf("config: chunking overlay: %w", err)
		}
	}
	if len(overlay.Scraper) > 0 {
		if err := mergeJSON(&cfg.Scraper, overlay.Scraper); err != nil {
			return nil, fmt.Errorf("config: scraper overlay: %w", err)
		}
	}
	if len(overlay.Pipeline) > 0 {
		if err := mergeJSON(&cfg.Pipeline, overlay.Pipeline); err != nil {
			return nil, fmt.Errorf("config: pipeline overlay: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeJSON re-marshals dst to JSON, overlays the raw field values from
// fields, and unmarshals back, so a partial JSON object in the config
// file only overrides the fields it names and leaves the rest at their
// package default.
func mergeJSON(dst any, fields map[string]json.RawMessage) error {
	base, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(out, dst)
}
