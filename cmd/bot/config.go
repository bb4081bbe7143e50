package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const defaultConfigFilePath = "config.yaml"

// Config is the root bot configuration.
//
// Priority: environment > YAML file > tag defaults. The YAML file path comes
// from CONFIG_PATH and falls back to ./config.yaml; a missing fallback file
// means env-only configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Pager    PagerConfig    `yaml:"pager"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// KernelConfig holds runtime core settings.
type KernelConfig struct {
	ModuleHookTimeout   time.Duration `yaml:"module_hook_timeout"  env:"KERNEL_MODULE_HOOK_TIMEOUT"  env-default:"3s"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"     env:"KERNEL_SHUTDOWN_TIMEOUT"     env-default:"10s"`
	HandlerTimeout      time.Duration `yaml:"handler_timeout"      env:"KERNEL_HANDLER_TIMEOUT"      env-default:"10s"`
	SubscriptionBuffer  int           `yaml:"subscription_buffer"  env:"KERNEL_SUBSCRIPTION_BUFFER"  env-default:"256"`
	SubscriptionWorkers int           `yaml:"subscription_workers" env:"KERNEL_SUBSCRIPTION_WORKERS" env-default:"2"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"10"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"    env:"DATABASE_CONNECT_TIMEOUT"    env-default:"10s"`
}

// TelegramConfig holds Telegram API credentials.
type TelegramConfig struct {
	APIID       int    `yaml:"api_id"       env:"TELEGRAM_API_ID"       env-required:"true"`
	APIHash     string `yaml:"api_hash"     env:"TELEGRAM_API_HASH"     env-required:"true"`
	BotToken    string `yaml:"bot_token"    env:"TELEGRAM_BOT_TOKEN"    env-required:"true"`
	SessionFile string `yaml:"session_file" env:"TELEGRAM_SESSION_FILE" env-default:"telegram-session.json"`
}

// CatalogConfig holds course catalog API settings.
type CatalogConfig struct {
	BaseURL string `yaml:"base_url" env:"CATALOG_BASE_URL" env-required:"true"`
}

// PagerConfig holds paginated session settings.
type PagerConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl"    env:"PAGER_SESSION_TTL"    env-default:"2m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"PAGER_SWEEP_INTERVAL" env-default:"15s"`
}

// MetricsConfig holds the optional Prometheus exposition listener.
type MetricsConfig struct {
	// Listen is the metrics listen address. Empty disables the listener.
	Listen string `yaml:"listen" env:"METRICS_LISTEN"`
}

// LoadConfig reads .env, the YAML config file, and the environment.
func LoadConfig() (*Config, error) {
	// A missing .env file is not an error; deployments may use real env vars.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = defaultConfigFilePath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints cleanenv tags cannot express.
func (c *Config) Validate() error {
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Kernel.ModuleHookTimeout <= 0 {
		return fmt.Errorf("kernel.module_hook_timeout: must be > 0")
	}
	if c.Kernel.ShutdownTimeout <= 0 {
		return fmt.Errorf("kernel.shutdown_timeout: must be > 0")
	}
	if c.Kernel.SubscriptionBuffer <= 0 {
		return fmt.Errorf("kernel.subscription_buffer: must be > 0")
	}
	if c.Kernel.SubscriptionWorkers <= 0 {
		return fmt.Errorf("kernel.subscription_workers: must be > 0")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns: must be >= min_conns")
	}
	if !strings.HasPrefix(c.Catalog.BaseURL, "http://") && !strings.HasPrefix(c.Catalog.BaseURL, "https://") {
		return fmt.Errorf("catalog.base_url: must be an http(s) URL")
	}
	if c.Pager.SessionTTL <= 0 || c.Pager.SweepInterval <= 0 {
		return fmt.Errorf("pager: session_ttl and sweep_interval must be > 0")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
