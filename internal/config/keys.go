package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "CLIPRECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "CLIPRECALL_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "CLIPRECALL_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CLIPRECALL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: "CLIPRECALL_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.max_text_length", typ: kInt, env: "CLIPRECALL_EMBEDDING_MAX_TEXT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxTextLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxTextLength },
	},
	{
		key: "clip.duration", typ: kDuration, env: "CLIPRECALL_CLIP_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Clip.Duration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Clip.Duration },
	},
	{
		key: "clip.retention", typ: kDuration, env: "CLIPRECALL_CLIP_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Clip.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Clip.Retention },
	},
	{
		key: "clip.keyword_cadence", typ: kInt, env: "CLIPRECALL_CLIP_KEYWORD_CADENCE",
		apply:   func(cfg *Config, v any) { cfg.Clip.KeywordCadence = v.(int) },
		extract: func(cfg Config) any { return cfg.Clip.KeywordCadence },
	},
	{
		key: "clip.still_count", typ: kInt, env: "CLIPRECALL_CLIP_STILL_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Clip.StillCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Clip.StillCount },
	},
	{
		key: "clip.frame_queue", typ: kInt, env: "CLIPRECALL_CLIP_FRAME_QUEUE",
		apply:   func(cfg *Config, v any) { cfg.Clip.FrameQueue = v.(int) },
		extract: func(cfg Config) any { return cfg.Clip.FrameQueue },
	},
	{
		key: "clip.prune_interval", typ: kDuration, env: "CLIPRECALL_CLIP_PRUNE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Clip.PruneInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Clip.PruneInterval },
	},
	{
		key: "frames.dir", typ: kString, env: "CLIPRECALL_FRAMES_DIR",
		apply:   func(cfg *Config, v any) { cfg.Frames.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Frames.Dir },
	},
	{
		key: "analyzer.url", typ: kString, env: "CLIPRECALL_ANALYZER_URL",
		apply:   func(cfg *Config, v any) { cfg.Analyzer.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Analyzer.URL },
	},
	{
		key: "analyzer.min_confidence", typ: kFloat, env: "CLIPRECALL_ANALYZER_MIN_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Analyzer.MinConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analyzer.MinConfidence },
	},
	{
		key: "analyzer.timeout", typ: kDuration, env: "CLIPRECALL_ANALYZER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Analyzer.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Analyzer.Timeout },
	},
	{
		key: "media.backend", typ: kString, env: "CLIPRECALL_MEDIA_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Media.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.Backend },
	},
	{
		key: "media.dir", typ: kString, env: "CLIPRECALL_MEDIA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Media.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.Dir },
	},
	{
		key: "media.max_clip_bytes", typ: kInt, env: "CLIPRECALL_MEDIA_MAX_CLIP_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Media.MaxClipBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Media.MaxClipBytes },
	},
	{
		key: "enrichment.provider", typ: kString, env: "CLIPRECALL_ENRICHMENT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.Provider },
	},
	{
		key: "enrichment.model", typ: kString, env: "CLIPRECALL_ENRICHMENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.Model },
	},
	{
		key: "enrichment.base_url", typ: kString, env: "CLIPRECALL_ENRICHMENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.BaseURL },
	},
	{
		key: "enrichment.api_key", typ: kString, env: "CLIPRECALL_ENRICHMENT_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Enrichment.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Enrichment.APIKey },
	},
	{
		key: "enrichment.timeout", typ: kDuration, env: "CLIPRECALL_ENRICHMENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Enrichment.Timeout },
	},
	{
		key: "enrichment.rate_per_minute", typ: kInt, env: "CLIPRECALL_ENRICHMENT_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Enrichment.RatePerMinute },
	},
	{
		key: "enrichment.concurrency", typ: kInt, env: "CLIPRECALL_ENRICHMENT_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Enrichment.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Enrichment.Concurrency },
	},
	{
		key: "search.cache_ttl", typ: kDuration, env: "CLIPRECALL_SEARCH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Search.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.CacheTTL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CLIPRECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CLIPRECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || v == "" {
			continue
		}
		parsed, err := parseValue(s.typ, v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			continue
		}
		s.apply(cfg, parsed)
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
		parsed, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, parsed)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
