package config_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/tmp/downloads")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/downloads", cfg.DownloadDir)
	assert.Equal(t, "/tmp/downloads", cfg.TempDir, "temp dir defaults to the download dir")
	assert.Equal(t, "episodes.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxParallel)
	assert.Equal(t, 3, cfg.MaxDownloadAttempts)
	assert.Equal(t, 10*time.Second, cfg.RetryBackoffBase)
	assert.True(t, cfg.AutoDownloadUnmeteredOnly)
	assert.False(t, cfg.AutoDownloadOnlyCharging)
	assert.Equal(t, "0.0.0.0:8080", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_RequiresDownloadDir(t *testing.T) {
	// t.Setenv restores the original value, os.Unsetenv makes the key
	// genuinely absent for the required check.
	t.Setenv("DOWNLOAD_DIR", "placeholder")
	os.Unsetenv("DOWNLOAD_DIR")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/tmp/downloads")
	t.Setenv("TEMP_DIR", "/tmp/partial")
	t.Setenv("MAX_PARALLEL", "5")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9090")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/partial", cfg.TempDir)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, "127.0.0.1:9090", cfg.Web.BindAddress)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &config.Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), tt.level)
	}
}
