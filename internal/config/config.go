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
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	TempDir     string `envconfig:"TEMP_DIR"`
	DBPath      string `envconfig:"DB_PATH" default:"episodes.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	MaxParallel         int           `envconfig:"MAX_PARALLEL" default:"3"`
	MaxDownloadAttempts int           `envconfig:"MAX_DOWNLOAD_ATTEMPTS" default:"3"`
	RetryBackoffBase    time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"10s"`
	DownloadTimeout     time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"0"`

	ConstraintPollInterval time.Duration `envconfig:"CONSTRAINT_POLL_INTERVAL" default:"10s"`
	MinFreeStorageBytes    int64         `envconfig:"MIN_FREE_STORAGE_BYTES" default:"262144000"`
	TempCleanupInterval    time.Duration `envconfig:"TEMP_CLEANUP_INTERVAL" default:"1h"`
	TempRetention          time.Duration `envconfig:"TEMP_RETENTION" default:"24h"`

	AutoDownloadUnmeteredOnly bool `envconfig:"AUTO_DOWNLOAD_UNMETERED_ONLY" default:"true"`
	AutoDownloadOnlyCharging  bool `envconfig:"AUTO_DOWNLOAD_ONLY_CHARGING" default:"false"`

	ShowNotesBaseURL  string `envconfig:"SHOW_NOTES_BASE_URL"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	UserAgent         string `envconfig:"USER_AGENT" default:"podkeeper"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"episode_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = cfg.DownloadDir
	}

	return &cfg, nil
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
