package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/ferry/executor"
	"github.com/yairfalse/ferry/types"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newTestMetricsEmitter(t *testing.T) (*MetricsEmitter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewMetricsEmitter(provider.Meter("ferry.test"))
	require.NoError(t, err)
	return e, reader
}

func TestMetricsEmitter_Pull(t *testing.T) {
	e, reader := newTestMetricsEmitter(t)

	tree := makeTree(
		makeAddress("a1", "10.0.0.1", "1"),
		makeAddress("a2", "10.0.0.2", "2"),
	)
	err := e.Emit(context.Background(), Report{
		Command: CommandPull,
		Tenant:  "tsg-1",
		Tree:    tree,
		Changes: []Change{{Type: ChangeAdded, Kind: types.KindAddress, Name: "a2"}},
	})
	require.NoError(t, err)

	metrics := collect(t, reader)

	gauge, ok := metrics["ferry_tree_records"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)
	attrs := gauge.DataPoints[0].Attributes.ToSlice()
	assert.Contains(t, attrs, attribute.String("tenant", "tsg-1"))
	assert.Contains(t, attrs, attribute.String("kind", string(types.KindAddress)))

	sum, ok := metrics["ferry_tree_changes_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	assert.Contains(t, sum.DataPoints[0].Attributes.ToSlice(), attribute.String("change_type", "added"))
}

func TestMetricsEmitter_GaugeReplacedPerTenant(t *testing.T) {
	e, reader := newTestMetricsEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Report{Tenant: "tsg-1", Tree: makeTree(makeAddress("a1", "10.0.0.1", "1"))}))
	require.NoError(t, e.Emit(ctx, Report{Tenant: "tsg-1", Tree: makeTree()}))

	// A gauge with no observations is left out of the collection.
	gauge, _ := collect(t, reader)["ferry_tree_records"].Data.(metricdata.Gauge[int64])
	assert.Empty(t, gauge.DataPoints)
}

func TestMetricsEmitter_PushAndRollback(t *testing.T) {
	e, reader := newTestMetricsEmitter(t)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Report{
		Command: CommandPush,
		Push: &executor.Result{Entries: []executor.Entry{
			{Kind: types.KindAddress, Action: executor.ActionCreated},
			{Kind: types.KindAddress, Action: executor.ActionCreated},
			{Kind: types.KindBandwidthAlloc, Action: executor.ActionNotImplemented},
		}},
	}))
	require.NoError(t, e.Emit(ctx, Report{
		Command:  CommandRollback,
		Rollback: &executor.RollbackResult{RolledBack: 2, Irreversible: 1},
	}))

	metrics := collect(t, reader)

	push := metrics["ferry_push_items_total"].Data.(metricdata.Sum[int64])
	byAction := make(map[string]int64)
	for _, dp := range push.DataPoints {
		action, _ := dp.Attributes.Value("action")
		byAction[action.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), byAction["created"])
	assert.Equal(t, int64(1), byAction["not_implemented"])

	rollback := metrics["ferry_rollback_items_total"].Data.(metricdata.Sum[int64])
	byOutcome := make(map[string]int64)
	for _, dp := range rollback.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		byOutcome[outcome.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byOutcome["rolled_back"])
	assert.Equal(t, int64(1), byOutcome["irreversible"])
}
