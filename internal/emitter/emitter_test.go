package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ferry/executor"
	"github.com/yairfalse/ferry/orchestrator"
	"github.com/yairfalse/ferry/types"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
	reports    []Report
}

func (m *mockEmitter) Emit(_ context.Context, report Report) error {
	m.emitCalls++
	m.reports = append(m.reports, report)
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func pushReport() Report {
	return Report{
		Command: CommandPush,
		Tenant:  "dest",
		RunID:   "run-1",
		Push: &executor.Result{
			RunID:   "run-1",
			Policy:  string(executor.PolicySkip),
			Summary: executor.Summary{Total: 2, Created: 1, Failed: 1},
			Entries: []executor.Entry{
				{Kind: types.KindAddress, Name: "a1", Container: "Shared", Action: executor.ActionCreated, ID: "1"},
				{Kind: types.KindSecurityRule, Name: "r1", Container: "Shared", Action: executor.ActionFailed, Error: "bad request"},
			},
		},
	}
}

func TestMultiEmitter_Emit(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), pushReport())

	require.NoError(t, err)
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
	require.Len(t, e1.reports, 1)
	assert.Equal(t, "run-1", e1.reports[0].RunID)
}

func TestMultiEmitter_Emit_Error(t *testing.T) {
	e1 := &mockEmitter{emitErr: errors.New("emit failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), Report{})

	assert.Error(t, err)
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 0, e2.emitCalls) // Should stop on first error
}

func TestMultiEmitter_Close(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	require.NoError(t, multi.Close())
	assert.Equal(t, 1, e1.closeCalls)
	assert.Equal(t, 1, e2.closeCalls)
}

func TestMultiEmitter_Close_Error(t *testing.T) {
	e1 := &mockEmitter{closeErr: errors.New("close failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	assert.Error(t, multi.Close())
	assert.Equal(t, 1, e1.closeCalls)
	assert.Equal(t, 0, e2.closeCalls)
}

func TestMultiEmitter_Empty(t *testing.T) {
	multi := NewMultiEmitter()
	require.NoError(t, multi.Emit(context.Background(), Report{}))
	require.NoError(t, multi.Close())
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)

	report := pushReport()
	report.Tree = &types.Tree{}
	require.NoError(t, e.Emit(context.Background(), report))
	require.NoError(t, e.Close())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "push", decoded["command"])
	assert.NotContains(t, decoded, "pull")
	assert.NotContains(t, decoded, "Tree")

	push := decoded["push"].(map[string]any)
	summary := push["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["created"])
	assert.Len(t, push["entries"], 2)
}

func TestJSONFileEmitter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "pull.json")
	e, err := NewJSONFileEmitter(path)
	require.NoError(t, err)

	report := Report{
		Command: CommandPull,
		RunID:   "run-2",
		Pull:    &orchestrator.Report{RunID: "run-2", State: orchestrator.StateDone},
		Changes: []Change{{Type: ChangeAdded, Kind: types.KindAddress, Container: "Shared", Name: "a1"}},
	}
	require.NoError(t, e.Emit(context.Background(), report))
	require.NoError(t, e.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state": "done"`)
	assert.Contains(t, string(data), `"type": "added"`)
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	e := NewLogEmitter(logger)

	require.NoError(t, e.Emit(context.Background(), pushReport()))
	out := buf.String()
	assert.Contains(t, out, `"message":"push complete"`)
	assert.Contains(t, out, `"created":1`)
	assert.Contains(t, out, `"message":"push item failed"`)
	assert.Contains(t, out, `"name":"r1"`)
	assert.Contains(t, out, `"component":"report"`)

	buf.Reset()
	require.NoError(t, e.Emit(context.Background(), Report{
		Command: CommandPull,
		Pull:    &orchestrator.Report{RunID: "run-3", State: orchestrator.StateDone},
		Changes: []Change{{Type: ChangeModified, Kind: types.KindAddress, Name: "a1", Fields: []string{"ip_netmask"}}},
	}))
	out = buf.String()
	assert.Contains(t, out, `"message":"pull complete"`)
	assert.Contains(t, out, `"modified":1`)
	assert.Contains(t, out, `"message":"record changed"`)

	buf.Reset()
	require.NoError(t, e.Emit(context.Background(), Report{
		Command:  CommandRollback,
		Rollback: &executor.RollbackResult{RunID: "run-1", RolledBack: 3},
	}))
	assert.Contains(t, buf.String(), `"rolled_back":3`)
}
