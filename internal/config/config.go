package config

import (
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Generation GenerationConfig
	Ollama     OllamaConfig
	Proxy      ProxyConfig
	Quality    QualityConfig
	Writer     WriterConfig
	Queue      QueueConfig
	Tracker    TrackerConfig
	Export     ExportConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// GenerationConfig selects the chapter-writing provider.
type GenerationConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

type OllamaConfig struct {
	BaseURL     string
	ScorerModel string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
}

type QualityConfig struct {
	LLMEnabled bool
	Timeout    time.Duration
}

type WriterConfig struct {
	BatchSize          int
	MinQuality         float64
	MaxRewriteAttempts int
	InterTaskDelay     time.Duration
	QualityWindow      int
	TargetWords        int
	BatchInterval      time.Duration
	TaskLease          time.Duration
}

type QueueConfig struct {
	PollInterval  time.Duration
	RetentionDays int
	Workers       int
}

type TrackerConfig struct {
	LadderFile           string
	DefaultTotalChapters int
	TooFastRatio         float64
	ForgottenWindow      int
	ReminderThreshold    int
}

type ExportConfig struct {
	Dir string
}

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: dataDir},
		Log:     LogConfig{Level: "info"},
		Generation: GenerationConfig{
			Provider:    ProviderOllama,
			Model:       "qwen2.5:14b",
			Temperature: 0.8,
			MaxTokens:   6000,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			ScorerModel: "qwen2.5:7b",
		},
		Quality: QualityConfig{
			LLMEnabled: true,
			Timeout:    90 * time.Second,
		},
		Writer: WriterConfig{
			BatchSize:          5,
			MinQuality:         70,
			MaxRewriteAttempts: 2,
			InterTaskDelay:     2 * time.Second,
			QualityWindow:      10,
			TargetWords:        2500,
			BatchInterval:      10 * time.Minute,
			TaskLease:          30 * time.Minute,
		},
		Queue: QueueConfig{
			PollInterval:  time.Second,
			RetentionDays: 30,
			Workers:       2,
		},
		Tracker: TrackerConfig{
			DefaultTotalChapters: 1000,
			TooFastRatio:         0.04,
			ForgottenWindow:      60,
			ReminderThreshold:    30,
		},
		Export: ExportConfig{Dir: filepath.Join(dataDir, "exports")},
	}
}

// Load reads configuration from the JSON file at FilePath, then applies
// INKWELL_* environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-key constraints.
func (c Config) Validate() error {
	switch c.Generation.Provider {
	case ProviderOllama:
	case ProviderOpenRouter:
		if c.Proxy.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. " +
				"Set it via environment variable INKWELL_OPENROUTER_API_KEY or use generation.provider=ollama")
		}
	default:
		return fmt.Errorf("invalid generation.provider %q: want %q or %q", c.Generation.Provider, ProviderOllama, ProviderOpenRouter)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must not be negative")
	}
	return nil
}
