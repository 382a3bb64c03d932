package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Default endpoints of the configuration service.
const (
	DefaultBaseURL = "https://api.sase.paloaltonetworks.com/sse/config/v1"
	DefaultAuthURL = "https://auth.apps.paloaltonetworks.com/oauth2/access_token"
)

// Credentials identify one tenant service account.
type Credentials struct {
	TSGID        string
	ClientID     string
	ClientSecret string
}

// Config controls one tenant session.
type Config struct {
	BaseURL     string
	AuthURL     string
	Credentials Credentials

	RateLimit  int
	RateWindow time.Duration
	CacheTTL   time.Duration

	// MaxAttempts bounds the number of tries of one call, first try included.
	MaxAttempts int
	RetryDelay  time.Duration

	PageSize      int
	Timeout       time.Duration
	RefreshMargin time.Duration
}

// DefaultConfig returns a config with the service limits filled in.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		AuthURL:       DefaultAuthURL,
		RateLimit:     45,
		RateWindow:    60 * time.Second,
		CacheTTL:      5 * time.Minute,
		MaxAttempts:   3,
		RetryDelay:    time.Second,
		PageSize:      200,
		Timeout:       30 * time.Second,
		RefreshMargin: 60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.AuthURL == "" {
		c.AuthURL = d.AuthURL
	}
	if c.RateLimit == 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = d.RefreshMargin
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Observer receives per-call measurements.
type Observer interface {
	RecordAPIRequest(ctx context.Context, method string, status int, duration time.Duration)
	RecordCacheHit(ctx context.Context)
	RecordRetry(ctx context.Context, method string)
	RecordRateLimitWait(ctx context.Context, wait time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordAPIRequest(context.Context, string, int, time.Duration) {}
func (nopObserver) RecordCacheHit(context.Context)                               {}
func (nopObserver) RecordRetry(context.Context, string)                          {}
func (nopObserver) RecordRateLimitWait(context.Context, time.Duration)           {}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client owns the authenticated session of one tenant. It is safe for
// concurrent use; all goroutines share one limiter and one cache.
type Client struct {
	cfg      Config
	http     *http.Client
	clock    clock.Clock
	limiter  *RateLimiter
	cache    *Cache
	flight   singleflight.Group
	observer Observer
	logger   zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient creates a client for one tenant. No call is made until the
// first request or an explicit Authenticate.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		clock:    clock.WallClock,
		observer: nopObserver{},
		logger:   log.With().Str("component", "api").Str("tsg_id", cfg.Credentials.TSGID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	c.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow, c.clock)
	c.cache = NewCache(cfg.CacheTTL, c.clock)
	return c
}

// TenantID returns the tenant this client is bound to.
func (c *Client) TenantID() string {
	return c.cfg.Credentials.TSGID
}

// PageSize returns the configured list page size.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// Limiter exposes the rolling-window limiter.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// Cache exposes the response cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Request performs one API call and returns the response body.
//
// Cacheable GETs are served from the cache while younger than the TTL and
// concurrent identical misses share one network call. Writes clear the
// cache. Retryable failures (transport errors, 5xx, 429) are retried with
// exponential backoff; other 4xx answers fail immediately.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any, cacheable bool) ([]byte, error) {
	query := EncodeQuery(params)
	cacheable = cacheable && method == http.MethodGet

	if !cacheable {
		data, err := c.call(ctx, method, path, query, body)
		if err == nil && method != http.MethodGet {
			c.cache.Clear()
		}
		return data, err
	}

	key := method + " " + path + "?" + query
	if data, ok := c.cache.Get(key); ok {
		c.observer.RecordCacheHit(ctx)
		return data, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if data, ok := c.cache.Get(key); ok {
			c.observer.RecordCacheHit(ctx)
			return data, nil
		}
		data, err := c.call(ctx, method, path, query, body)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// retryOnce marks an error that is retryable even though its status is
// normally terminal.
type retryOnce struct{ err error }

func (r *retryOnce) Error() string { return r.err.Error() }
func (r *retryOnce) Unwrap() error { return r.err }

func (c *Client) call(ctx context.Context, method, path, query string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var (
		result   []byte
		reauthed bool
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if err := c.waitForSlot(ctx); err != nil {
				return err
			}
			token, err := c.accessToken(ctx)
			if err != nil {
				return err
			}
			data, err := c.send(ctx, method, path, query, payload, token)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !reauthed {
					reauthed = true
					c.dropToken()
					return &retryOnce{err: err}
				}
				return err
			}
			result = data
			return nil
		},
		IsFatalError: func(err error) bool {
			return !isRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			c.observer.RecordRetry(ctx, method)
			c.logger.Debug().
				Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Msg("retrying request")
		},
		Attempts:    c.cfg.MaxAttempts,
		Delay:       c.cfg.RetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return result, nil
	}

	switch {
	case retry.IsAttemptsExceeded(err):
		last := unwrapRetryOnce(retry.LastError(err))
		return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.cfg.MaxAttempts, last)
	case retry.IsRetryStopped(err):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unwrapRetryOnce(retry.LastError(err))
	}
	return nil, unwrapRetryOnce(err)
}

func unwrapRetryOnce(err error) error {
	var r *retryOnce
	if errors.As(err, &r) {
		return r.err
	}
	return err
}

// isRetryable separates transient failures from terminal ones.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r *retryOnce
	if errors.As(err, &r) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var encErr *json.UnsupportedTypeError
	if errors.As(err, &encErr) {
		return false
	}
	// Transport level failure.
	return true
}

func (c *Client) waitForSlot(ctx context.Context) error {
	wait := c.limiter.WaitTime()
	if wait > 0 {
		c.observer.RecordRateLimitWait(ctx, wait)
		c.logger.Debug().Dur("wait", wait).Msg("rate limit reached, waiting")
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) send(ctx context.Context, method, path, query string, payload []byte, token string) ([]byte, error) {
	target := c.cfg.BaseURL + path
	if query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observer.RecordAPIRequest(ctx, method, 0, c.clock.Now().Sub(start))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.observer.RecordAPIRequest(ctx, method, resp.StatusCode, c.clock.Now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(method, path, resp.StatusCode, data)
	}
	return data, nil
}
