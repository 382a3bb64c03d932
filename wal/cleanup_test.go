package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanup_NoFiles(t *testing.T) {
	require.NoError(t, Cleanup(t.TempDir(), DefaultConfig()))
}

func TestCleanup_AllFilesNew(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "fresh")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Type: EntryStarted}))
	require.NoError(t, w.Close())

	require.NoError(t, Cleanup(dir, Config{RetentionDays: 30}))

	files, _ := filepath.Glob(filepath.Join(dir, "push-*.wal"))
	assert.Len(t, files, 1)
}

func TestCleanupWithStats_OldFilesRemoved(t *testing.T) {
	dir := t.TempDir()
	old := Path(dir, "old-run")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0644))
	oldTime := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	w, err := Open(dir, "new-run")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stats, err := CleanupWithStats(dir, Config{RetentionDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, int64(3), stats.BytesFreed)
	assert.WithinDuration(t, oldTime, stats.OldestRemoved, time.Second)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(Path(dir, "new-run"))
	assert.NoError(t, err)
}
