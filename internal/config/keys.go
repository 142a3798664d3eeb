package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "RECALL_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "embedding.provider", typ: kString, env: "RECALL_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "RECALL_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "RECALL_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "embedding.api_key", typ: kString, env: "GOOGLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "cache.hot_threshold", typ: kFloat, env: "RECALL_CACHE_HOT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.HotThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.HotThreshold },
	},
	{
		key: "cache.durable_threshold", typ: kFloat, env: "RECALL_CACHE_DURABLE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.DurableThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.DurableThreshold },
	},
	{
		key: "cache.top_k", typ: kInt, env: "RECALL_CACHE_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Cache.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.TopK },
	},
	{
		key: "cache.promote_every", typ: kInt, env: "RECALL_CACHE_PROMOTE_EVERY",
		apply:   func(cfg *Config, v any) { cfg.Cache.PromoteEvery = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.PromoteEvery },
	},
	{
		key: "cache.refresh_limit", typ: kInt, env: "RECALL_CACHE_REFRESH_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Cache.RefreshLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.RefreshLimit },
	},
	{
		key: "cache.hot_timeout", typ: kString, env: "RECALL_CACHE_HOT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cache.HotTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.HotTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.base_url", typ: kString, env: "RECALL_PIPELINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.BaseURL },
	},
	{
		key: "pipeline.timeout", typ: kString, env: "RECALL_PIPELINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Timeout },
	},
	{
		key: "history.turns", typ: kInt, env: "RECALL_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.History.Turns = v.(int) },
		extract: func(cfg Config) any { return cfg.History.Turns },
	},
	{
		key: "api.token", typ: kString, env: "RECALL_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "RECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
