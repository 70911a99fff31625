package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/podkeeper/episode_downloader/internal/logctx"
)

// DeleteStaleTempFiles removes partial download files older than retention
// from the temp directory. A crash between a fetch starting and its cleanup
// running can leave an orphaned .tmp file behind; age is the only signal
// that no worker still owns it.
func DeleteStaleTempFiles(ctx context.Context, tempDir string, retention time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read temp dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}

		filePath := filepath.Join(tempDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			logger.Error("failed to stat temp file", "file", filePath, "err", err)

			continue
		}

		if now.Sub(info.ModTime()) <= retention {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete stale temp file", "file", filePath, "err", err)

			continue
		}

		logger.Info("deleted stale temp file", "file", filePath)
	}

	return nil
}

// Run sweeps the temp directory on the given interval until the context is
// cancelled. One sweep runs immediately on start.
func Run(ctx context.Context, tempDir string, interval, retention time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if err := DeleteStaleTempFiles(ctx, tempDir, retention); err != nil {
		logger.Error("temp cleanup failed", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := DeleteStaleTempFiles(ctx, tempDir, retention); err != nil {
				logger.Error("temp cleanup failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
