package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podkeeper/episode_downloader/internal/cleanup"
)

func writeTempFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	return path
}

func TestDeleteStaleTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	stale := writeTempFile(t, dir, "ep1.tmp", 48*time.Hour)
	fresh := writeTempFile(t, dir, "ep2.tmp", time.Minute)
	other := writeTempFile(t, dir, "notes.json", 48*time.Hour)

	require.NoError(t, cleanup.DeleteStaleTempFiles(context.Background(), dir, 24*time.Hour))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other, "only .tmp files are swept")
}

func TestDeleteStaleTempFiles_MissingDirIsNoOp(t *testing.T) {
	t.Parallel()

	err := cleanup.DeleteStaleTempFiles(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Hour)
	assert.NoError(t, err)
}
