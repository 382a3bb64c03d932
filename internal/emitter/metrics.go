package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/ferry/types"
)

// MetricsEmitter exposes report contents as OTEL metrics, scraped through
// the Prometheus exporter when it is enabled.
type MetricsEmitter struct {
	meter metric.Meter

	treeRecords    metric.Int64ObservableGauge
	changesTotal   metric.Int64Counter
	pushItemsTotal metric.Int64Counter
	rollbackTotal  metric.Int64Counter

	// State for the observable gauge
	mu      sync.RWMutex
	records map[recordGroup]int64
}

type recordGroup struct {
	tenant string
	kind   types.Kind
}

// NewMetricsEmitter creates a metrics emitter on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{
		meter:   meter,
		records: make(map[recordGroup]int64),
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.treeRecords, err = e.meter.Int64ObservableGauge(
		"ferry_tree_records",
		metric.WithDescription("Records in the last captured tree"),
		metric.WithInt64Callback(e.observeRecords),
	)
	if err != nil {
		return fmt.Errorf("create tree_records gauge: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"ferry_tree_changes_total",
		metric.WithDescription("Record changes detected between snapshots"),
	)
	if err != nil {
		return fmt.Errorf("create tree_changes counter: %w", err)
	}

	e.pushItemsTotal, err = e.meter.Int64Counter(
		"ferry_push_items_total",
		metric.WithDescription("Push outcomes by kind"),
	)
	if err != nil {
		return fmt.Errorf("create push_items counter: %w", err)
	}

	e.rollbackTotal, err = e.meter.Int64Counter(
		"ferry_rollback_items_total",
		metric.WithDescription("Rollback outcomes"),
	)
	if err != nil {
		return fmt.Errorf("create rollback_items counter: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *MetricsEmitter) Emit(ctx context.Context, report Report) error {
	if report.Tree != nil {
		e.setRecords(report.Tenant, report.Tree)
	}

	for _, c := range report.Changes {
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tenant", report.Tenant),
			attribute.String("kind", string(c.Kind)),
			attribute.String("change_type", string(c.Type)),
		))
	}

	if report.Push != nil {
		for _, entry := range report.Push.Entries {
			e.pushItemsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(entry.Kind)),
				attribute.String("action", string(entry.Action)),
				attribute.Bool("dry_run", report.Push.DryRun),
			))
		}
	}

	if rb := report.Rollback; rb != nil {
		e.rollbackTotal.Add(ctx, int64(rb.RolledBack), metric.WithAttributes(attribute.String("outcome", "rolled_back")))
		e.rollbackTotal.Add(ctx, int64(rb.Failed), metric.WithAttributes(attribute.String("outcome", "failed")))
		e.rollbackTotal.Add(ctx, int64(rb.Irreversible), metric.WithAttributes(attribute.String("outcome", "irreversible")))
	}
	return nil
}

// setRecords replaces the gauge state for tenant.
func (e *MetricsEmitter) setRecords(tenant string, tree *types.Tree) {
	counts := make(map[types.Kind]int64)
	for _, rec := range tree.AllRecords() {
		counts[rec.Kind]++
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for g := range e.records {
		if g.tenant == tenant {
			delete(e.records, g)
		}
	}
	for kind, n := range counts {
		e.records[recordGroup{tenant: tenant, kind: kind}] = n
	}
}

// observeRecords is the callback for the tree_records gauge.
func (e *MetricsEmitter) observeRecords(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for g, n := range e.records {
		o.Observe(n, metric.WithAttributes(
			attribute.String("tenant", g.tenant),
			attribute.String("kind", string(g.kind)),
		))
	}
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
