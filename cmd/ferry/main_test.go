package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ferry/internal/config"
	"github.com/yairfalse/ferry/internal/emitter"
	"github.com/yairfalse/ferry/storage"
	"github.com/yairfalse/ferry/types"
	"github.com/yairfalse/ferry/wal"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"address", " security-rule ", ""})
	require.NoError(t, err)
	assert.Equal(t, []types.Kind{types.KindAddress, types.KindSecurityRule}, kinds)

	_, err = parseKinds([]string{"firewall"})
	assert.Error(t, err)
}

func TestParseRevisions(t *testing.T) {
	revs, err := parseRevisions([]string{"3", "12"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 12}, revs)

	for _, bad := range []string{"0", "-1", "latest"} {
		_, err := parseRevisions([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestAPIConfig(t *testing.T) {
	c := config.Default()
	tc := config.TenantConfig{TSGID: "1001", ClientID: "svc@1001", ClientSecret: "s3cret"}

	out := apiConfig(c.API, tc)
	assert.Equal(t, "1001", out.Credentials.TSGID)
	assert.Equal(t, "svc@1001", out.Credentials.ClientID)
	assert.Equal(t, "s3cret", out.Credentials.ClientSecret)
	assert.Equal(t, 45, out.RateLimit)
	assert.Equal(t, 60*time.Second, out.RateWindow)
	assert.Equal(t, 3, out.MaxAttempts)
	assert.Equal(t, 200, out.PageSize)
	assert.NotEmpty(t, out.BaseURL)
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogging("warn", false)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging("nonsense", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	setupLogging("error", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printSnapshots(&buf, nil)
	assert.Equal(t, "No snapshots.\n", buf.String())

	buf.Reset()
	printSnapshots(&buf, []storage.Snapshot{{
		Revision:   7,
		Tenant:     "1001",
		RunID:      "run-7",
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Records:    42,
	}})
	out := buf.String()
	assert.Contains(t, out, "REVISION")
	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "42")
}

func TestPrintChanges(t *testing.T) {
	var buf bytes.Buffer
	printChanges(&buf, []emitter.Change{
		{Type: emitter.ChangeAdded, Kind: types.KindAddress, Container: "Shared", Name: "web-2"},
		{Type: emitter.ChangeModified, Kind: types.KindAddress, Container: "Shared", Name: "web-1", Fields: []string{"ip_netmask"}},
	})
	out := buf.String()
	assert.Contains(t, out, "web-2")
	assert.Contains(t, out, "ip_netmask")
	assert.Contains(t, out, "1 added, 0 removed, 1 modified")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, []wal.RunInfo{{
		RunID:    "run-1",
		Started:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Finished: true,
		Counts:   map[wal.EntryType]int{wal.EntryCreated: 4, wal.EntryFailed: 1},
	}})
	out := buf.String()
	assert.Contains(t, out, "ROLLED BACK")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "true")
}

func TestValidateCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, storage.WriteFile(path, &types.Tree{
		Metadata: types.Metadata{RunID: "run-1", SourceTenant: "1001", Version: types.FormatVersion},
	}))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "-i", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		validateSource = treeSource{}
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "All references resolve.")
}
