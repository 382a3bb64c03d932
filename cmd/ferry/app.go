package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/ferry/api"
	"github.com/yairfalse/ferry/internal/config"
	"github.com/yairfalse/ferry/internal/emitter"
	"github.com/yairfalse/ferry/internal/telemetry"
	"github.com/yairfalse/ferry/storage"
	"github.com/yairfalse/ferry/types"
)

// app holds what every command shares: telemetry, the snapshot store and
// the report sinks.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	metrics   *http.Server
	store     *storage.Store
	emit      emitter.Emitter
}

// newApp starts telemetry, opens the snapshot store and builds the report
// sinks. reportPath adds a JSON report file when set.
func newApp(ctx context.Context, c *config.Config, reportPath string) (*app, error) {
	provider, err := telemetry.NewProvider(ctx, c.OTEL)
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	a := &app{cfg: c, telemetry: provider}

	if c.OTEL.Prometheus.Enabled {
		a.metrics = serveMetrics(c.OTEL.Prometheus.Addr, provider.Handler())
	}

	store, err := storage.Open(c.Storage.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	metricsSink, err := emitter.NewMetricsEmitter(provider.Meter())
	if err != nil {
		a.Close()
		return nil, err
	}
	sinks := []emitter.Emitter{emitter.NewLogEmitter(log.Logger), metricsSink}
	if reportPath != "" {
		jsonSink, err := emitter.NewJSONFileEmitter(reportPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, jsonSink)
	}
	a.emit = emitter.NewMultiEmitter(sinks...)
	return a, nil
}

// Close releases everything newApp acquired.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.emit != nil {
		if err := a.emit.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close report sinks")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close snapshot store")
		}
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shut down telemetry")
	}
}

// report sends r to every sink. Sink failures are logged, not returned.
func (a *app) report(ctx context.Context, r emitter.Report) {
	r.Time = time.Now().UTC()
	if err := a.emit.Emit(ctx, r); err != nil {
		log.Error().Err(err).Str("command", r.Command).Msg("emit failed")
	}
}

// client builds an authenticated session for tenant tc.
func (a *app) client(name string, tc config.TenantConfig) (*api.Client, error) {
	if err := tc.Check(name); err != nil {
		return nil, err
	}
	return api.NewClient(apiConfig(a.cfg.API, tc),
		api.WithObserver(a.telemetry),
		api.WithLogger(log.Logger),
	), nil
}

// exporter returns the S3 exporter, or nil when no bucket is configured.
func (a *app) exporter(ctx context.Context) (*storage.S3Exporter, error) {
	s3cfg := a.cfg.Storage.S3
	if s3cfg.Bucket == "" {
		return nil, nil
	}
	return storage.NewS3ExporterFromEnv(ctx, storage.S3Options{
		Bucket:   s3cfg.Bucket,
		Region:   s3cfg.Region,
		Prefix:   s3cfg.Prefix,
		Endpoint: s3cfg.Endpoint,
	})
}

func apiConfig(c config.APIConfig, tc config.TenantConfig) api.Config {
	out := api.DefaultConfig()
	if c.BaseURL != "" {
		out.BaseURL = c.BaseURL
	}
	if c.AuthURL != "" {
		out.AuthURL = c.AuthURL
	}
	out.Credentials = api.Credentials{
		TSGID:        tc.TSGID,
		ClientID:     tc.ClientID,
		ClientSecret: tc.Secret(),
	}
	out.RateLimit = c.RateLimit
	out.RateWindow = c.RateWindow
	out.CacheTTL = c.CacheTTL
	out.MaxAttempts = c.MaxRetries
	out.RetryDelay = c.RetryDelay
	out.PageSize = c.PageSize
	out.Timeout = c.Timeout
	return out
}

func serveMetrics(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}

// parseKinds turns kind names into kinds.
func parseKinds(names []string) ([]types.Kind, error) {
	kinds := make([]types.Kind, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k, err := types.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
