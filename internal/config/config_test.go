package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
[source]
tsg_id = "1111111111"
client_id = "src@1111111111.iam.panserviceaccount.com"
client_secret = "s3cret"

[destination]
tsg_id = "2222222222"
client_id = "dst@2222222222.iam.panserviceaccount.com"
client_secret_env = "FERRY_TEST_DEST_SECRET"

[api]
rate_limit = 30
rate_window = "30s"
cache_ttl = "0s"
max_retries = 5
retry_delay = "2s"
page_size = 100

[pull]
exclude_folders = ["Lab"]
exclude_kinds = ["tag"]
include_defaults = true
workers = 2

[push]
conflict_policy = "RENAME"
rename_suffix = "_copy"

[storage]
dir = "/var/lib/ferry"

[storage.s3]
bucket = "ferry-trees"
region = "eu-west-1"

[policy]
files = ["guard.rego"]

[otel]
endpoint = "localhost:4317"
insecure = true

[otel.traces]
enabled = true
sample_rate = 0.5

[log]
level = "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "1111111111", cfg.Source.TSGID)
	assert.Equal(t, "s3cret", cfg.Source.Secret())
	assert.Equal(t, 30, cfg.API.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.API.RateWindow)
	assert.Equal(t, time.Duration(0), cfg.API.CacheTTL)
	assert.Equal(t, 5, cfg.API.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.API.RetryDelay)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, []string{"Lab"}, cfg.Pull.ExcludeFolders)
	assert.Equal(t, []string{"tag"}, cfg.Pull.ExcludeKinds)
	assert.True(t, cfg.Pull.IncludeDefaults)
	assert.Equal(t, 2, cfg.Pull.Workers)
	assert.Equal(t, "rename", cfg.Push.ConflictPolicy)
	assert.Equal(t, "_copy", cfg.Push.RenameSuffix)
	assert.Equal(t, "/var/lib/ferry/journal", cfg.Push.JournalDir)
	assert.Equal(t, "ferry-trees", cfg.Storage.S3.Bucket)
	assert.Equal(t, "ferry", cfg.Storage.S3.Prefix)
	assert.Equal(t, []string{"guard.rego"}, cfg.Policy.Files)
	assert.Equal(t, "localhost:4317", cfg.OTEL.Endpoint)
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "[source]\ntsg_id = \"1\"\n")
	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 45, cfg.API.RateLimit)
	assert.Equal(t, 60*time.Second, cfg.API.RateWindow)
	assert.Equal(t, 5*time.Minute, cfg.API.CacheTTL)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, time.Second, cfg.API.RetryDelay)
	assert.Equal(t, 200, cfg.API.PageSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 4, cfg.Pull.Workers)
	assert.Equal(t, "skip", cfg.Push.ConflictPolicy)
	assert.Equal(t, "_imported", cfg.Push.RenameSuffix)
	assert.Equal(t, ".ferry", cfg.Storage.Dir)
	assert.Equal(t, "ferry", cfg.OTEL.ServiceName)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.API.RateWindow)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "[source\ntsg_id = 1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTempConfig(t, "[api]\nrate_window = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.rate_window")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad policy", func(c *Config) { c.Push.ConflictPolicy = "merge" }, "conflict_policy"},
		{"no retries", func(c *Config) { c.API.MaxRetries = -1 }, "max_retries"},
		{"page size", func(c *Config) { c.API.PageSize = 10000 }, "page_size"},
		{"workers", func(c *Config) { c.Pull.Workers = -2 }, "workers"},
		{"sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 2 }, "sample_rate"},
		{"window", func(c *Config) { c.API.RateWindow = 0 }, "rate_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTenantConfig_Secret(t *testing.T) {
	t.Setenv("FERRY_TEST_SECRET", "from-env")

	tenant := TenantConfig{TSGID: "1", ClientID: "c", ClientSecretEnv: "FERRY_TEST_SECRET"}
	assert.Equal(t, "from-env", tenant.Secret())
	require.NoError(t, tenant.Check("source"))

	tenant.ClientSecret = "inline"
	assert.Equal(t, "inline", tenant.Secret())

	err := TenantConfig{ClientID: "c"}.Check("destination")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination: missing tsg_id, client_secret")
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}
