package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apitables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	cfg := &Config{BaseURI: "https://api.example.com", SpecLocation: "openapi.yaml"}
	cfg.applyDefaults()
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, AuthNone, cfg.Auth.Type)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 4, cfg.Fetch.Parallelism)
	assert.Equal(t, uint64(1_000_000), cfg.Adapter.MaxSteps)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "apitables_meta.sqlite", cfg.MetaDBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.Warnings, "unauthenticated API should warn")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
base_uri: https://petstore.example.com/v1
spec_location: s3://specs/petstore.yaml
spec:
  refresh_cron: "*/5 * * * *"
auth:
  type: client_credentials
  token_endpoint: https://auth.example.com/token
  client_id: cid
  client_secret: secret
  scopes: [read, write]
http:
  timeout: 10s
  rate_limit_rps: 5
fetch:
  parallelism: 8
object_store:
  s3:
    region: eu-west-1
server:
  jwt_secret: dev
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://petstore.example.com/v1", cfg.BaseURI)
	assert.Equal(t, "s3://specs/petstore.yaml", cfg.SpecLocation)
	assert.Equal(t, []string{"read", "write"}, cfg.Auth.Scopes)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 1, cfg.HTTP.RateLimitBurst)
	assert.Equal(t, 8, cfg.Fetch.Parallelism)
	assert.Equal(t, "eu-west-1", cfg.ObjectStore.S3.Region)
	assert.Empty(t, cfg.Warnings)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "base_uri: https://file.example.com\nfetch:\n  parallelism: 2\n")
	t.Setenv("APITABLES_BASE_URI", "https://env.example.com")
	t.Setenv("APITABLES_FETCH_PARALLELISM", "16")
	t.Setenv("APITABLES_AUTH_SCOPES", "a, b,,c")
	t.Setenv("APITABLES_SPEC_SKIP_VALIDATION", "yes")
	t.Setenv("APITABLES_ADAPTER_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.BaseURI)
	assert.Equal(t, 16, cfg.Fetch.Parallelism)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.Scopes)
	assert.True(t, cfg.Spec.SkipValidation)
	assert.Equal(t, 250*time.Millisecond, cfg.Adapter.Timeout)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("APITABLES_FETCH_PARALLELISM", "many")
	t.Setenv("APITABLES_HTTP_TIMEOUT", "soon")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APITABLES_FETCH_PARALLELISM")
	assert.Contains(t, err.Error(), "APITABLES_HTTP_TIMEOUT")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing base uri", func(c *Config) { c.BaseURI = "" }, "base_uri is required"},
		{"relative base uri", func(c *Config) { c.BaseURI = "/v1" }, "absolute URL"},
		{"missing spec", func(c *Config) { c.SpecLocation = "" }, "spec_location is required"},
		{"unknown auth type", func(c *Config) { c.Auth.Type = "digest" }, "unsupported auth.type"},
		{
			"client credentials missing secret",
			func(c *Config) {
				c.Auth = UpstreamAuthConfig{Type: AuthClientCredentials, TokenEndpoint: "https://a/token", ClientID: "id"}
			},
			"auth.client_secret",
		},
		{"basic missing password", func(c *Config) { c.Auth = UpstreamAuthConfig{Type: AuthBasic, Username: "u"} }, "auth.password"},
		{"bad cron", func(c *Config) { c.Spec.RefreshCron = "every minute" }, "spec.refresh_cron"},
		{"zero parallelism", func(c *Config) { c.Fetch.Parallelism = 0 }, "fetch.parallelism"},
		{"issuer without audience", func(c *Config) { c.Server.IssuerURL = "https://idp" }, "server.audience"},
		{"production without auth", func(c *Config) { c.Env = "production" }, "API auth must be configured"},
		{
			"production with wildcard cors",
			func(c *Config) { c.Env = "production"; c.Server.JWTSecret = "s" },
			"CORS wildcard",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for level, want := range map[string]string{"debug": "DEBUG", "warning": "WARN", "error": "ERROR", "": "INFO"} {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.SlogLevel().String())
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	assert.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\nAPITABLES_TEST_KEY=\"test_value\"\n"), 0o600))
	t.Setenv("APITABLES_TEST_KEY", "")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("APITABLES_TEST_KEY"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("APITABLES_PRECEDENCE_KEY", "from_env")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("APITABLES_PRECEDENCE_KEY=from_file\n"), 0o600))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("APITABLES_PRECEDENCE_KEY"))
}
