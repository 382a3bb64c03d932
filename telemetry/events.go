package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordCaptureErrorEvent adds a capture failure to the span
func RecordCaptureErrorEvent(span trace.Span, container, kind, message string) {
	if span == nil {
		return
	}

	span.AddEvent("ferry.capture.failed", trace.WithAttributes(
		attribute.String("event.type", "ferry.capture.failed"),
		attribute.String("container", container),
		attribute.String("resource.kind", kind),
		attribute.String("message", message),
	))
}

// RecordPushOutcomeEvent adds one push outcome to the span
func RecordPushOutcomeEvent(span trace.Span, kind, container, name, action, newName, message string) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "ferry.push.item"),
		attribute.String("resource.kind", kind),
		attribute.String("container", container),
		attribute.String("resource.name", name),
		attribute.String("push.action", action),
	}
	if newName != "" {
		attrs = append(attrs, attribute.String("resource.new_name", newName))
	}
	if message != "" {
		attrs = append(attrs, attribute.String("message", message))
	}
	span.AddEvent("ferry.push.item", trace.WithAttributes(attrs...))
}

// RecordPolicyDenyEvent adds a push guard denial to the span
func RecordPolicyDenyEvent(span trace.Span, kind, name string, reasons []string) {
	if span == nil {
		return
	}

	span.AddEvent("ferry.policy.denied", trace.WithAttributes(
		attribute.String("event.type", "ferry.policy.denied"),
		attribute.String("resource.kind", kind),
		attribute.String("resource.name", name),
		attribute.StringSlice("reasons", reasons),
	))
}
