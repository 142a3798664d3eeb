package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	History   HistoryConfig
	API       APIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type EmbeddingConfig struct {
	// Provider is "gemini" or "mock".
	Provider  string
	Model     string
	Dimension int
	APIKey    string
}

type CacheConfig struct {
	HotThreshold     float64
	DurableThreshold float64
	TopK             int
	PromoteEvery     int
	RefreshLimit     int
	HotTimeout       string
}

type StorageConfig struct {
	DataDir string
}

type PipelineConfig struct {
	BaseURL string
	Timeout string
}

type HistoryConfig struct {
	Turns int
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    7080,
			MCPPort: 7081,
		},
		Embedding: EmbeddingConfig{
			Provider:  "gemini",
			Model:     "gemini-embedding-001",
			Dimension: 3072,
		},
		Cache: CacheConfig{
			HotThreshold:     0.98,
			DurableThreshold: 0.90,
			TopK:             3,
			PromoteEvery:     23,
			RefreshLimit:     5,
			HotTimeout:       "2s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			Timeout: "60s",
		},
		History: HistoryConfig{
			Turns: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/recall/config.json, then applies RECALL_* environment
// overrides. Secrets (API token, embedding API key) come from the
// environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.Token == "" {
		return fmt.Errorf("missing required config: API token. Set it via environment variable RECALL_API_TOKEN")
	}
	if c.Embedding.Provider == "gemini" && c.Embedding.APIKey == "" {
		return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable GOOGLE_API_KEY")
	}
	if c.Embedding.Provider != "gemini" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("unknown embedding provider %q (expected gemini or mock)", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Cache.HotThreshold < c.Cache.DurableThreshold {
		return fmt.Errorf("cache.hot_threshold %.2f must not be below cache.durable_threshold %.2f",
			c.Cache.HotThreshold, c.Cache.DurableThreshold)
	}
	if c.Cache.DurableThreshold <= 0 || c.Cache.HotThreshold > 1 {
		return fmt.Errorf("cache thresholds must lie in (0, 1]")
	}
	if c.Cache.PromoteEvery <= 0 {
		return fmt.Errorf("cache.promote_every must be positive, got %d", c.Cache.PromoteEvery)
	}
	if c.Cache.RefreshLimit <= 0 {
		return fmt.Errorf("cache.refresh_limit must be positive, got %d", c.Cache.RefreshLimit)
	}
	if c.Pipeline.BaseURL == "" {
		return fmt.Errorf("missing required config: pipeline.base_url (the answering service endpoint)")
	}
	if _, err := time.ParseDuration(c.Cache.HotTimeout); err != nil {
		return fmt.Errorf("invalid cache.hot_timeout %q: %w", c.Cache.HotTimeout, err)
	}
	if _, err := time.ParseDuration(c.Pipeline.Timeout); err != nil {
		return fmt.Errorf("invalid pipeline.timeout %q: %w", c.Pipeline.Timeout, err)
	}
	return nil
}

// HotTimeoutDuration returns the parsed hot tier search bound. validate
// has already checked the format.
func (c Config) HotTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Cache.HotTimeout)
	return d
}

// PipelineTimeoutDuration returns the parsed answering service timeout.
func (c Config) PipelineTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.Timeout)
	return d
}
