// Package telemetry sets up the OpenTelemetry providers for Ferry and
// holds the run and access-layer instruments.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/ferry/internal/config"
)

const scope = "github.com/yairfalse/ferry"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	apiDuration   metric.Float64Histogram
	apiRequests   metric.Int64Counter
	cacheHits     metric.Int64Counter
	retries       metric.Int64Counter
	rateLimitWait metric.Float64Histogram

	pullDuration  metric.Float64Histogram
	pullRecords   metric.Int64Counter
	captureErrors metric.Int64Counter
	pushDuration  metric.Float64Histogram
	pushItems     metric.Int64Counter
}

// NewProvider creates a new telemetry provider. Metrics are always
// readable through Handler; OTLP export needs an endpoint.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{registry: promclient.NewRegistry()}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(scope)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(scope)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&p.apiDuration, "ferry_api_request_duration", "Duration of configuration API calls"},
		{&p.rateLimitWait, "ferry_api_rate_limit_wait", "Time spent waiting for a rate limit slot"},
		{&p.pullDuration, "ferry_pull_duration", "Duration of pull runs"},
		{&p.pushDuration, "ferry_push_duration", "Duration of push runs"},
	}
	for _, h := range histograms {
		*h.dst, err = p.meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("create %s: %w", h.name, err)
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&p.apiRequests, "ferry_api_requests", "Configuration API calls by method and status"},
		{&p.cacheHits, "ferry_api_cache_hits", "Reads answered from the response cache"},
		{&p.retries, "ferry_api_retries", "Retried API calls"},
		{&p.pullRecords, "ferry_pull_records", "Records captured by pull runs"},
		{&p.captureErrors, "ferry_capture_errors", "Capture failures by kind"},
		{&p.pushItems, "ferry_push_items", "Push outcomes by action"},
	}
	for _, c := range counters {
		*c.dst, err = p.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Handler serves the metrics in Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordAPIRequest records one completed API call.
func (p *Provider) RecordAPIRequest(ctx context.Context, method string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(status)),
	)
	p.apiDuration.Record(ctx, d.Seconds(), attrs)
	p.apiRequests.Add(ctx, 1, attrs)
}

// RecordCacheHit records a read served from cache.
func (p *Provider) RecordCacheHit(ctx context.Context) {
	p.cacheHits.Add(ctx, 1)
}

// RecordRetry records a retried call.
func (p *Provider) RecordRetry(ctx context.Context, method string) {
	p.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordRateLimitWait records time blocked on the limiter.
func (p *Provider) RecordRateLimitWait(ctx context.Context, wait time.Duration) {
	p.rateLimitWait.Record(ctx, wait.Seconds())
}

// RecordPull records a finished pull run.
func (p *Provider) RecordPull(ctx context.Context, state string, records int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", state))
	p.pullDuration.Record(ctx, d.Seconds(), attrs)
	p.pullRecords.Add(ctx, int64(records), attrs)
}

// RecordCaptureError records a failed capture of one kind.
func (p *Provider) RecordCaptureError(ctx context.Context, kind string) {
	p.captureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPush records a finished push run and its outcome counts.
func (p *Provider) RecordPush(ctx context.Context, policy string, dryRun bool, counts map[string]int, d time.Duration) {
	p.pushDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.Bool("dry_run", dryRun),
	))
	for action, n := range counts {
		if n == 0 {
			continue
		}
		p.pushItems.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("policy", policy),
		))
	}
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
