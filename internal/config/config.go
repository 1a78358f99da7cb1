package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	StorageDir  string `envconfig:"STORAGE_DIR" default:"downloads"`
	CatalogFile string `envconfig:"CATALOG_FILE"`

	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB_PATH" default:"biofetch.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"8"`
	QueueSize         int           `envconfig:"QUEUE_SIZE" default:"256"`
	TransferTimeout   time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"10m"`
	ProgressInterval  time.Duration `envconfig:"PROGRESS_INTERVAL" default:"500ms"`
	ChecksumAlgorithm string        `envconfig:"CHECKSUM_ALGORITHM" default:"md5"`

	KeepArtifactsFor time.Duration `envconfig:"KEEP_ARTIFACTS_FOR" default:"0s"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"biofetch"`
		ServiceVersion string `split_words:"true" default:"1.0.0"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	}

	Mirror struct {
		Bucket    string `split_words:"true"`
		Prefix    string `split_words:"true"`
		Region    string `split_words:"true" default:"us-east-1"`
		Endpoint  string `split_words:"true"`
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8001"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("invalid DB_DRIVER: %s", c.DBDriver)
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel)
	}

	return nil
}

// MirrorEnabled reports whether completed artifacts are copied to a bucket.
func (c *Config) MirrorEnabled() bool {
	return c.Mirror.Bucket != ""
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
