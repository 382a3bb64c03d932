package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a component logger. It inherits output and level
// from the global logger the CLI configures.
func NewLogger(service string) *Logger {
	logger := log.Logger.
		With().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogRunStart logs the start of a pull or push run.
func (l *Logger) LogRunStart(ctx context.Context, command, runID string, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Info().Str("run_id", runID)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg(command + " started")
}

func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for pull and push runs

func (l *Logger) LogFolderCaptured(ctx context.Context, folder string, records, parents int, d time.Duration) {
	l.WithContext(ctx).Info().
		Str("folder", folder).
		Int("records", records).
		Int("parent_dependencies", parents).
		Dur("duration", d).
		Msg("folder captured")
}

func (l *Logger) LogCaptureError(ctx context.Context, container, kind string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("container", container).
		Str("kind", kind).
		Msg("capture failed")
}

func (l *Logger) LogPushOutcome(ctx context.Context, kind, container, name, action, message string) {
	event := l.WithContext(ctx).Info()
	if action == "failed" {
		event = l.WithContext(ctx).Warn()
	}
	event.
		Str("kind", kind).
		Str("container", container).
		Str("name", name).
		Str("action", action).
		Str("message", message).
		Msg("push item")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
