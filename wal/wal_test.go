package wal

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAL_AppendAndReadRun(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run-1")
	require.NoError(t, err)

	require.NoError(t, w.AppendData(Entry{Type: EntryStarted}, map[string]string{"policy": "rename"}))
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "address/Shared/web-1", Kind: "address", Container: "Shared", Name: "web-1", NewName: "web-1_imported", ID: "address-0007"}))
	require.NoError(t, w.Append(Entry{Type: EntryFailed, Key: "tag/Shared/t1", Message: "conflict"}))
	require.NoError(t, w.Close())

	entries, err := ReadRun(dir, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, "run-1", e.RunID)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.JSONEq(t, `{"policy":"rename"}`, string(entries[0].Data))
	assert.Equal(t, "web-1_imported", entries[1].NewName)
	assert.Equal(t, "address-0007", entries[1].ID)
	assert.Equal(t, "conflict", entries[2].Message)
}

func TestWAL_ReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run-2")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Type: EntryStarted}))
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "a"}))
	require.NoError(t, w.Close())

	w, err = Open(dir, "run-2")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "b"}))
	require.NoError(t, w.Close())

	entries, err := ReadRun(dir, "run-2")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[2].Sequence)
}

func TestWAL_SkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run-3")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "a"}))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(Path(dir, "run-3"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"sequence":2,"type":"crea`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadRun(dir, "run-3")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	w, err = Open(dir, "run-3")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, "run-3", w.RunID())
}

func TestOpen_RejectsBadRunID(t *testing.T) {
	_, err := Open(t.TempDir(), "../escape")
	require.Error(t, err)

	_, err = ReadRun(t.TempDir(), "a/b")
	require.Error(t, err)
}

func TestReadRun_Missing(t *testing.T) {
	_, err := ReadRun(t.TempDir(), "nope")
	require.ErrorIs(t, err, ErrNoRun)
}

func TestEntryType_Completed(t *testing.T) {
	assert.True(t, EntryCreated.Completed())
	assert.True(t, EntryUpdated.Completed())
	assert.False(t, EntrySkipped.Completed())
	assert.False(t, EntryFailed.Completed())
	assert.False(t, EntryNotImplemented.Completed())
	assert.False(t, EntryRolledBack.Completed())
}

func TestReplay_Since(t *testing.T) {
	dir := t.TempDir()
	for _, run := range []string{"a", "b"} {
		w, err := Open(dir, run)
		require.NoError(t, err)
		require.NoError(t, w.Append(Entry{Type: EntryStarted}))
		require.NoError(t, w.Close())
	}

	var runs []string
	err := Replay(dir, time.Now().Add(-time.Hour), func(e *Entry) error {
		runs = append(runs, e.RunID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, runs)

	runs = nil
	require.NoError(t, Replay(dir, time.Now().Add(time.Hour), func(e *Entry) error {
		runs = append(runs, e.RunID)
		return nil
	}))
	assert.Empty(t, runs)
}

func TestRuns(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run-9")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Type: EntryStarted}))
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "a"}))
	require.NoError(t, w.Append(Entry{Type: EntryCreated, Key: "b"}))
	require.NoError(t, w.Append(Entry{Type: EntryFinished}))
	require.NoError(t, w.Close())

	runs, err := Runs(dir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].RunID)
	assert.Equal(t, 4, runs[0].Entries)
	assert.Equal(t, 2, runs[0].Counts[EntryCreated])
	assert.True(t, runs[0].Finished)
	assert.Greater(t, runs[0].SizeBytes, int64(0))
}
