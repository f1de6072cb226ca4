package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Media backends.
const (
	MediaFile   = "file"
	MediaSQLite = "sqlite"
)

// Enrichment providers.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Embedding  EmbeddingConfig
	Clip       ClipConfig
	Frames     FramesConfig
	Analyzer   AnalyzerConfig
	Media      MediaConfig
	Enrichment EnrichmentConfig
	Search     SearchConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
}

type EmbeddingConfig struct {
	Model         string
	MaxTextLength int
}

type ClipConfig struct {
	Duration       time.Duration
	Retention      time.Duration
	KeywordCadence int
	StillCount     int
	FrameQueue     int
	PruneInterval  time.Duration
}

type FramesConfig struct {
	Dir string
}

type AnalyzerConfig struct {
	URL           string
	MinConfidence float64
	Timeout       time.Duration
}

type MediaConfig struct {
	Backend      string
	Dir          string
	MaxClipBytes int
}

type EnrichmentConfig struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerMinute int
	Concurrency   int
}

type SearchConfig struct {
	CacheTTL time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Embedding: EmbeddingConfig{
			Model:         "nomic-embed-text",
			MaxTextLength: 512,
		},
		Clip: ClipConfig{
			Duration:       5 * time.Second,
			Retention:      60 * time.Second,
			KeywordCadence: 10,
			StillCount:     3,
			FrameQueue:     64,
			PruneInterval:  time.Second,
		},
		Frames: FramesConfig{
			Dir: filepath.Join(dataDir, "frames"),
		},
		Analyzer: AnalyzerConfig{
			MinConfidence: 0.5,
			Timeout:       2 * time.Second,
		},
		Media: MediaConfig{
			Backend:      MediaFile,
			Dir:          filepath.Join(dataDir, "media"),
			MaxClipBytes: 64 << 20,
		},
		Enrichment: EnrichmentConfig{
			Provider:      ProviderNone,
			Model:         "llava",
			Timeout:       20 * time.Second,
			RatePerMinute: 12,
			Concurrency:   2,
		},
		Search: SearchConfig{
			CacheTTL: 10 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/cliprecall/config.yaml, then applies environment
// overrides (CLIPRECALL_*). Secrets come only from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Media.Backend {
	case MediaFile, MediaSQLite:
	default:
		return fmt.Errorf("invalid media.backend %q: want %q or %q", cfg.Media.Backend, MediaFile, MediaSQLite)
	}

	switch cfg.Enrichment.Provider {
	case ProviderNone, ProviderOllama:
	case ProviderOpenAI:
		base := cfg.Enrichment.BaseURL
		if cfg.Enrichment.APIKey == "" && (base == "" || base == defaultOpenAIBaseURL) {
			return fmt.Errorf("missing required config: enrichment API key. " +
				"Set it via environment variable CLIPRECALL_ENRICHMENT_API_KEY")
		}
	default:
		return fmt.Errorf("invalid enrichment.provider %q: want none, ollama or openai", cfg.Enrichment.Provider)
	}

	if cfg.Clip.Duration <= 0 {
		return fmt.Errorf("clip.duration must be positive, got %s", cfg.Clip.Duration)
	}
	if cfg.Clip.Retention < cfg.Clip.Duration {
		return fmt.Errorf("clip.retention %s is shorter than clip.duration %s", cfg.Clip.Retention, cfg.Clip.Duration)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "cliprecall-data"
		}
	}
	return filepath.Join(dir, "cliprecall")
}
