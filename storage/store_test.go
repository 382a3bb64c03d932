package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ferry/types"
)

func sampleTree(tenant, runID string) *types.Tree {
	shared := types.Folder{Name: "Shared", IsDefault: true}
	shared.Add(types.Record{
		Kind:       types.KindAddress,
		Name:       "web-1",
		Folder:     "Shared",
		Attributes: map[string]any{"name": "web-1", "ip_netmask": "10.0.0.1/32"},
	})
	shared.Add(types.Record{
		Kind:       types.KindSecurityRule,
		Name:       "allow-web",
		Folder:     "Shared",
		Position:   types.PositionPre,
		Attributes: map[string]any{"name": "allow-web", "destination": []any{"web-1"}},
	})
	return &types.Tree{
		Metadata: types.Metadata{
			RunID:        runID,
			SourceTenant: tenant,
			CapturedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Version:      types.FormatVersion,
		},
		SecurityPolicies: types.SecurityPolicies{Folders: []types.Folder{shared}},
		Infrastructure:   types.Infrastructure{},
	}
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := openStore(t, t.TempDir())

	rev, err := s.Save(sampleTree("tsg-1", "run-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	tree, err := s.Load(rev)
	require.NoError(t, err)
	assert.Equal(t, "run-1", tree.Metadata.RunID)
	require.Len(t, tree.SecurityPolicies.Folders, 1)
	shared := tree.SecurityPolicies.Folders[0]
	require.Len(t, shared.Objects, 1)
	assert.Equal(t, "10.0.0.1/32", shared.Objects[0].Attributes["ip_netmask"])
	require.Len(t, shared.Rules, 1)
	assert.Equal(t, []any{"web-1"}, shared.Rules[0].Attributes["destination"])

	_, err = s.Load(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LatestPerTenant(t *testing.T) {
	s := openStore(t, t.TempDir())

	for _, tc := range []struct{ tenant, run string }{
		{"tsg-1", "a"},
		{"tsg-2", "b"},
		{"tsg-1", "c"},
		{"tsg-2", "d"},
	} {
		_, err := s.Save(sampleTree(tc.tenant, tc.run))
		require.NoError(t, err)
	}

	tree, snap, err := s.Latest("tsg-1")
	require.NoError(t, err)
	assert.Equal(t, "c", tree.Metadata.RunID)
	assert.Equal(t, int64(3), snap.Revision)
	assert.Equal(t, 2, snap.Records)

	_, snap, err = s.Latest("")
	require.NoError(t, err)
	assert.Equal(t, "d", snap.RunID)

	_, _, err = s.Latest("tsg-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteAndList(t *testing.T) {
	s := openStore(t, t.TempDir())
	for _, run := range []string{"a", "b", "c"} {
		_, err := s.Save(sampleTree("tsg-1", run))
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(2))
	assert.ErrorIs(t, s.Delete(2), ErrNotFound)

	var revs []int64
	for _, snap := range s.List() {
		revs = append(revs, snap.Revision)
	}
	assert.Equal(t, []int64{1, 3}, revs)

	rev, err := s.Save(sampleTree("tsg-1", "d"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev, "revisions are not reused")
}

func TestStore_ReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Save(sampleTree("tsg-1", "a"))
	require.NoError(t, err)
	_, err = s.Save(sampleTree("tsg-1", "b"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	assert.Equal(t, int64(2), s.CurrentRevision())
	assert.Len(t, s.List(), 2)

	_, snap, err := s.Latest("tsg-1")
	require.NoError(t, err)
	assert.Equal(t, "b", snap.RunID)
}

func TestStore_Compact(t *testing.T) {
	s := openStore(t, t.TempDir())
	for _, tc := range []struct{ tenant, run string }{
		{"tsg-1", "a"}, {"tsg-1", "b"}, {"tsg-2", "c"}, {"tsg-1", "d"},
	} {
		_, err := s.Save(sampleTree(tc.tenant, tc.run))
		require.NoError(t, err)
	}

	removed, err := s.Compact(1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var runs []string
	for _, snap := range s.List() {
		runs = append(runs, snap.RunID)
	}
	assert.Equal(t, []string{"c", "d"}, runs)

	_, err = s.Compact(0)
	assert.Error(t, err)
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tree.json")
	require.NoError(t, WriteFile(path, sampleTree("tsg-1", "run-1")))

	tree, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tsg-1", tree.Metadata.SourceTenant)
	assert.Len(t, tree.AllRecords(), 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
