package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Snapshot backends
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// AI providers
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LevelUp controls XP thresholds and per-level stat gains
type LevelUp struct {
	XPPerLevel   int `env:"XP_PER_LEVEL" envDefault:"100"`
	HPPerLevel   int `env:"HP_PER_LEVEL" envDefault:"10"`
	ManaPerLevel int `env:"MANA_PER_LEVEL" envDefault:"5"`
}

type Config struct {
	Port        string     `env:"PORT" envDefault:"8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level `env:"-"`

	RedisURL        string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	SnapshotBackend string        `env:"SNAPSHOT_BACKEND" envDefault:"redis"`
	SnapshotPath    string        `env:"SNAPSHOT_PATH" envDefault:"data/world.db"`
	SnapshotKey     string        `env:"SNAPSHOT_KEY" envDefault:"consequence-engine:world"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	SaveDebounce       time.Duration `env:"SAVE_DEBOUNCE" envDefault:"5s"`
	AutosaveInterval   time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"30s"`
	ExpirationInterval time.Duration `env:"EXPIRATION_INTERVAL" envDefault:"60s"`
	ScenarioLength     time.Duration `env:"SCENARIO_LENGTH" envDefault:"30m"`

	AIProvider      string        `env:"AI_PROVIDER" envDefault:"none"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	ModelName       string        `env:"MODEL_NAME"`
	AITimeout       time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`
	AIMaxAttempts   int           `env:"AI_MAX_ATTEMPTS" envDefault:"3"`
	AIBackoff       time.Duration `env:"AI_BACKOFF" envDefault:"500ms"`

	TemplateDir          string        `env:"TEMPLATE_DIR"`
	CacheSize            int           `env:"SCENARIO_CACHE_SIZE" envDefault:"100"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	CompletedScenarioTTL time.Duration `env:"COMPLETED_SCENARIO_TTL" envDefault:"1h"`

	GenerationWorkers  int    `env:"GENERATION_WORKERS" envDefault:"2"`
	GenerationQueueKey string `env:"GENERATION_QUEUE_KEY" envDefault:"generation-jobs"`

	LevelUp LevelUp
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	cfg.SnapshotBackend = strings.ToLower(strings.TrimSpace(cfg.SnapshotBackend))
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with
func (c *Config) Validate() error {
	switch c.SnapshotBackend {
	case BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.SnapshotBackend)
	}
	switch c.AIProvider {
	case ProviderNone, "":
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %s", c.AIProvider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %s", c.AIProvider)
		}
	default:
		return fmt.Errorf("unknown AI provider %q", c.AIProvider)
	}
	if c.AIMaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1, got %d", c.AIMaxAttempts)
	}
	if c.GenerationWorkers < 0 {
		return fmt.Errorf("GENERATION_WORKERS must not be negative, got %d", c.GenerationWorkers)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("SCENARIO_CACHE_SIZE must be at least 1, got %d", c.CacheSize)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
