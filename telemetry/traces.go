package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process tracer. It follows the global provider, so spans
// are exported once a provider is installed.
var Tracer = otel.Tracer("github.com/yairfalse/ferry")

// RunSpan wraps the span of a whole pull or push run
type RunSpan struct {
	ctx  context.Context
	span trace.Span
}

// StartPull starts the span of a pull run
func StartPull(ctx context.Context, tracer trace.Tracer, runID, tenant string) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, "pull",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("tenant", tenant),
		),
	)
	return ctx, &RunSpan{ctx: ctx, span: span}
}

// StartPush starts the span of a push run
func StartPush(ctx context.Context, tracer trace.Tracer, runID, tenant, policy string, dryRun bool) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, "push",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("tenant", tenant),
			attribute.String("conflict.policy", policy),
			attribute.Bool("dry_run", dryRun),
		),
	)
	return ctx, &RunSpan{ctx: ctx, span: span}
}

// End ends the run span
func (r *RunSpan) End() {
	r.span.End()
}

// Span returns the underlying span
func (r *RunSpan) Span() trace.Span {
	return r.span
}

// SetCounts records named totals on the run span
func (r *RunSpan) SetCounts(counts map[string]int) {
	for k, v := range counts {
		r.span.SetAttributes(attribute.Int(k, v))
	}
}

// StartFolderCapture starts the span of one folder capture
func StartFolderCapture(ctx context.Context, tracer trace.Tracer, folder string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "capture_folder",
		trace.WithAttributes(attribute.String("folder", folder)),
	)
}

// EndFolderCapture ends the folder span with counts
func EndFolderCapture(span trace.Span, records, parents, errors int) {
	span.SetAttributes(
		attribute.Int("records", records),
		attribute.Int("parent_dependencies", parents),
		attribute.Int("errors", errors),
	)
	span.End()
}

// StartResolve starts the dependency resolution span
func StartResolve(ctx context.Context, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "resolve_dependencies")
}

// EndResolve ends the resolution span
func EndResolve(span trace.Span, nodes, edges int, valid bool) {
	span.SetAttributes(
		attribute.Int("graph.nodes", nodes),
		attribute.Int("graph.edges", edges),
		attribute.Bool("graph.valid", valid),
	)
	span.End()
}

// RecordError records an error in a span
func RecordError(span trace.Span, errorMessage string, errorType string) {
	span.SetAttributes(
		attribute.String("error.message", errorMessage),
		attribute.String("error.type", errorType),
		attribute.Bool("error.occurred", true),
	)
}
