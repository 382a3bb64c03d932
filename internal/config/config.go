// Package config handles TOML configuration for Ferry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Source      TenantConfig  `toml:"source"`
	Destination TenantConfig  `toml:"destination"`
	API         APIConfig     `toml:"api"`
	Pull        PullConfig    `toml:"pull"`
	Push        PushConfig    `toml:"push"`
	Storage     StorageConfig `toml:"storage"`
	Policy      PolicyConfig  `toml:"policy"`
	OTEL        OTELConfig    `toml:"otel"`
	Log         LogConfig     `toml:"log"`
}

// TenantConfig holds the service account of one tenant.
type TenantConfig struct {
	TSGID           string `toml:"tsg_id"`
	ClientID        string `toml:"client_id"`
	ClientSecret    string `toml:"client_secret"`
	ClientSecretEnv string `toml:"client_secret_env"`
}

// Secret returns the inline secret, or the value of the named
// environment variable.
func (t TenantConfig) Secret() string {
	if t.ClientSecret != "" {
		return t.ClientSecret
	}
	if t.ClientSecretEnv != "" {
		return os.Getenv(t.ClientSecretEnv)
	}
	return ""
}

// Check reports what is missing for the tenant to authenticate.
func (t TenantConfig) Check(name string) error {
	var missing []string
	if t.TSGID == "" {
		missing = append(missing, "tsg_id")
	}
	if t.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if t.Secret() == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing %s", name, strings.Join(missing, ", "))
	}
	return nil
}

// APIConfig holds access layer settings.
type APIConfig struct {
	BaseURL       string `toml:"base_url"`
	AuthURL       string `toml:"auth_url"`
	RateLimit     int    `toml:"rate_limit"`
	RateWindowStr string `toml:"rate_window"`
	RateWindow    time.Duration
	CacheTTLStr   string `toml:"cache_ttl"`
	CacheTTL      time.Duration
	MaxRetries    int    `toml:"max_retries"`
	RetryDelayStr string `toml:"retry_delay"`
	RetryDelay    time.Duration
	PageSize      int    `toml:"page_size"`
	TimeoutStr    string `toml:"timeout"`
	Timeout       time.Duration
}

// PullConfig holds capture settings.
type PullConfig struct {
	ExcludeFolders     []string `toml:"exclude_folders"`
	ExcludeKinds       []string `toml:"exclude_kinds"`
	IncludeDefaults    bool     `toml:"include_defaults"`
	SkipInfrastructure bool     `toml:"skip_infrastructure"`
	Workers            int      `toml:"workers"`
	DefaultsTable      string   `toml:"defaults_table"`
}

// PushConfig holds push settings.
type PushConfig struct {
	ConflictPolicy string `toml:"conflict_policy"`
	RenameSuffix   string `toml:"rename_suffix"`
	JournalDir     string `toml:"journal_dir"`
}

// StorageConfig holds snapshot store settings.
type StorageConfig struct {
	Dir string   `toml:"dir"`
	S3  S3Config `toml:"s3"`
}

// S3Config holds tree export settings. Export is off without a bucket.
type S3Config struct {
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Prefix   string `toml:"prefix"`
	Endpoint string `toml:"endpoint"`
}

// PolicyConfig lists Rego files guarding push.
type PolicyConfig struct {
	Files []string `toml:"files"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string           `toml:"endpoint"`
	Insecure    bool             `toml:"insecure"`
	ServiceName string           `toml:"service_name"`
	Traces      TracesConfig     `toml:"traces"`
	Metrics     MetricsConfig    `toml:"metrics"`
	Prometheus  PrometheusConfig `toml:"prometheus"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// PrometheusConfig exposes metrics for scraping while a command runs.
type PrometheusConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Conflict policies accepted in push.conflict_policy.
var conflictPolicies = map[string]bool{"skip": true, "overwrite": true, "rename": true}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// Defaults always parse.
	_ = parseDurations(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = 45
	}
	if cfg.API.RateWindowStr == "" {
		cfg.API.RateWindowStr = "60s"
	}
	if cfg.API.CacheTTLStr == "" {
		cfg.API.CacheTTLStr = "5m"
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = 3
	}
	if cfg.API.RetryDelayStr == "" {
		cfg.API.RetryDelayStr = "1s"
	}
	if cfg.API.PageSize == 0 {
		cfg.API.PageSize = 200
	}
	if cfg.API.TimeoutStr == "" {
		cfg.API.TimeoutStr = "30s"
	}
	if cfg.Pull.Workers == 0 {
		cfg.Pull.Workers = 4
	}
	if cfg.Push.ConflictPolicy == "" {
		cfg.Push.ConflictPolicy = "skip"
	}
	cfg.Push.ConflictPolicy = strings.ToLower(cfg.Push.ConflictPolicy)
	if cfg.Push.RenameSuffix == "" {
		cfg.Push.RenameSuffix = "_imported"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = ".ferry"
	}
	if cfg.Push.JournalDir == "" {
		cfg.Push.JournalDir = cfg.Storage.Dir + "/journal"
	}
	if cfg.Storage.S3.Prefix == "" {
		cfg.Storage.S3.Prefix = "ferry"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "ferry"
	}
	if cfg.OTEL.Prometheus.Addr == "" {
		cfg.OTEL.Prometheus.Addr = ":9464"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"api.rate_window", cfg.API.RateWindowStr, &cfg.API.RateWindow},
		{"api.cache_ttl", cfg.API.CacheTTLStr, &cfg.API.CacheTTL},
		{"api.retry_delay", cfg.API.RetryDelayStr, &cfg.API.RetryDelay},
		{"api.timeout", cfg.API.TimeoutStr, &cfg.API.Timeout},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.src, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api: rate_limit must not be negative (got %d)", c.API.RateLimit)
	}
	if c.API.RateWindow <= 0 {
		return fmt.Errorf("api: rate_window must be positive")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("api: max_retries must be at least 1 (got %d)", c.API.MaxRetries)
	}
	if c.API.PageSize < 1 || c.API.PageSize > 5000 {
		return fmt.Errorf("api: page_size must be between 1 and 5000 (got %d)", c.API.PageSize)
	}
	if c.Pull.Workers < 1 {
		return fmt.Errorf("pull: workers must be at least 1 (got %d)", c.Pull.Workers)
	}
	if !conflictPolicies[c.Push.ConflictPolicy] {
		return fmt.Errorf("push: conflict_policy must be skip, overwrite or rename (got %q)", c.Push.ConflictPolicy)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
