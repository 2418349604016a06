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
		key: "server.port", typ: kInt, env: "INKWELL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INKWELL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "INKWELL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "generation.provider", typ: kString, env: "INKWELL_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.model", typ: kString, env: "INKWELL_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "INKWELL_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_tokens", typ: kInt, env: "INKWELL_GENERATION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxTokens },
	},
	{
		key: "ollama.base_url", typ: kString, env: "INKWELL_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.scorer_model", typ: kString, env: "INKWELL_OLLAMA_SCORER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ScorerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ScorerModel },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "INKWELL_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "quality.llm_enabled", typ: kBool, env: "INKWELL_QUALITY_LLM_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Quality.LLMEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Quality.LLMEnabled },
	},
	{
		key: "quality.timeout", typ: kDuration, env: "INKWELL_QUALITY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Quality.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Quality.Timeout },
	},
	{
		key: "writer.batch_size", typ: kInt, env: "INKWELL_WRITER_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Writer.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Writer.BatchSize },
	},
	{
		key: "writer.min_quality", typ: kFloat, env: "INKWELL_WRITER_MIN_QUALITY",
		apply:   func(cfg *Config, v any) { cfg.Writer.MinQuality = v.(float64) },
		extract: func(cfg Config) any { return cfg.Writer.MinQuality },
	},
	{
		key: "writer.max_rewrite_attempts", typ: kInt, env: "INKWELL_WRITER_MAX_REWRITE_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Writer.MaxRewriteAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Writer.MaxRewriteAttempts },
	},
	{
		key: "writer.inter_task_delay", typ: kDuration, env: "INKWELL_WRITER_INTER_TASK_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Writer.InterTaskDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Writer.InterTaskDelay },
	},
	{
		key: "writer.quality_window", typ: kInt, env: "INKWELL_WRITER_QUALITY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Writer.QualityWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Writer.QualityWindow },
	},
	{
		key: "writer.target_words", typ: kInt, env: "INKWELL_WRITER_TARGET_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Writer.TargetWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Writer.TargetWords },
	},
	{
		key: "writer.batch_interval", typ: kDuration, env: "INKWELL_WRITER_BATCH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Writer.BatchInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Writer.BatchInterval },
	},
	{
		key: "writer.task_lease", typ: kDuration, env: "INKWELL_WRITER_TASK_LEASE",
		apply:   func(cfg *Config, v any) { cfg.Writer.TaskLease = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Writer.TaskLease },
	},
	{
		key: "queue.poll_interval", typ: kDuration, env: "INKWELL_QUEUE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.PollInterval },
	},
	{
		key: "queue.retention_days", typ: kInt, env: "INKWELL_QUEUE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Queue.RetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.RetentionDays },
	},
	{
		key: "queue.workers", typ: kInt, env: "INKWELL_QUEUE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Queue.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.Workers },
	},
	{
		key: "tracker.ladder_file", typ: kString, env: "INKWELL_TRACKER_LADDER_FILE",
		apply:   func(cfg *Config, v any) { cfg.Tracker.LadderFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracker.LadderFile },
	},
	{
		key: "tracker.default_total_chapters", typ: kInt, env: "INKWELL_TRACKER_DEFAULT_TOTAL_CHAPTERS",
		apply:   func(cfg *Config, v any) { cfg.Tracker.DefaultTotalChapters = v.(int) },
		extract: func(cfg Config) any { return cfg.Tracker.DefaultTotalChapters },
	},
	{
		key: "tracker.too_fast_ratio", typ: kFloat, env: "INKWELL_TRACKER_TOO_FAST_RATIO",
		apply:   func(cfg *Config, v any) { cfg.Tracker.TooFastRatio = v.(float64) },
		extract: func(cfg Config) any { return cfg.Tracker.TooFastRatio },
	},
	{
		key: "tracker.forgotten_window", typ: kInt, env: "INKWELL_TRACKER_FORGOTTEN_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Tracker.ForgottenWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Tracker.ForgottenWindow },
	},
	{
		key: "tracker.reminder_threshold", typ: kInt, env: "INKWELL_TRACKER_REMINDER_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Tracker.ReminderThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Tracker.ReminderThreshold },
	},
	{
		key: "export.dir", typ: kString, env: "INKWELL_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Dir },
	},
}

// parseValue converts raw text to the key's Go type.
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

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
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
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
