// Package config handles application configuration: a YAML file, environment
// overrides and .env loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APITABLES_"

// Upstream authentication modes.
const (
	AuthNone              = "none"
	AuthClientCredentials = "client_credentials"
	AuthBasic             = "basic"
)

// SpecConfig controls how the OpenAPI document is loaded.
type SpecConfig struct {
	SkipValidation bool   `yaml:"skip_validation"`
	RefreshCron    string `yaml:"refresh_cron"` // empty disables periodic reloads
}

// UpstreamAuthConfig configures authentication against the upstream API.
type UpstreamAuthConfig struct {
	Type          string   `yaml:"type"`
	TokenEndpoint string   `yaml:"token_endpoint"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Scopes        []string `yaml:"scopes"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
}

// Validate checks that the fields required by the auth mode are present.
func (a *UpstreamAuthConfig) Validate() error {
	switch a.Type {
	case "", AuthNone:
		return nil
	case AuthClientCredentials:
		var missing []string
		if a.TokenEndpoint == "" {
			missing = append(missing, "auth.token_endpoint")
		}
		if a.ClientID == "" {
			missing = append(missing, "auth.client_id")
		}
		if a.ClientSecret == "" {
			missing = append(missing, "auth.client_secret")
		}
		if len(missing) > 0 {
			return fmt.Errorf("auth.type %s requires %s", a.Type, strings.Join(missing, ", "))
		}
		if _, err := url.ParseRequestURI(a.TokenEndpoint); err != nil {
			return fmt.Errorf("auth.token_endpoint: %w", err)
		}
		return nil
	case AuthBasic:
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("auth.type %s requires auth.username and auth.password", a.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth.type %q (want %s, %s or %s)", a.Type, AuthNone, AuthClientCredentials, AuthBasic)
	}
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"` // 0 disables outbound limiting
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

// FetchConfig configures the request/response marshaller.
type FetchConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// AdapterConfig configures the optional starlark response adapter.
type AdapterConfig struct {
	Script   string        `yaml:"script"`
	MaxSteps uint64        `yaml:"max_steps"`
	Timeout  time.Duration `yaml:"timeout"`
}

// S3Config holds credentials for s3:// document locations.
type S3Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	KeyID    string `yaml:"key_id"`
	Secret   string `yaml:"secret"`
}

// GCSConfig holds credentials for gs:// document locations.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds credentials for az:// document locations.
type AzureConfig struct {
	Account  string `yaml:"account"`
	Key      string `yaml:"key"`
	Endpoint string `yaml:"endpoint"`
}

// ObjectStoreConfig groups object store credentials.
type ObjectStoreConfig struct {
	S3    S3Config    `yaml:"s3"`
	GCS   GCSConfig   `yaml:"gcs"`
	Azure AzureConfig `yaml:"azure"`
}

// ServerConfig configures the served HTTP API.
type ServerConfig struct {
	ListenAddr         string   `yaml:"listen_addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	JWTSecret          string   `yaml:"jwt_secret"` // HS256 shared secret for local/dev JWT auth
	IssuerURL          string   `yaml:"issuer_url"` // OIDC issuer URL
	Audience           string   `yaml:"audience"`   // required JWT audience claim
}

// AuthEnabled reports whether the served API requires bearer tokens.
func (s *ServerConfig) AuthEnabled() bool {
	return s.JWTSecret != "" || s.IssuerURL != ""
}

// Config holds the complete application configuration.
type Config struct {
	BaseURI      string             `yaml:"base_uri"`
	SpecLocation string             `yaml:"spec_location"`
	Spec         SpecConfig         `yaml:"spec"`
	Auth         UpstreamAuthConfig `yaml:"auth"`
	HTTP         HTTPConfig         `yaml:"http"`
	Fetch        FetchConfig        `yaml:"fetch"`
	Adapter      AdapterConfig      `yaml:"adapter"`
	ObjectStore  ObjectStoreConfig  `yaml:"object_store"`
	Server       ServerConfig       `yaml:"server"`
	MetaDBPath   string             `yaml:"meta_db_path"` // path to the SQLite fetch history
	// HistoryRetention drops fetch history older than this at startup; 0 keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention"`
	LogLevel         string        `yaml:"log_level"` // debug, info, warn, error (default "info")
	Env              string        `yaml:"env"`       // "development" (default) or "production"

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads the YAML file at path (skipped when path is empty), applies
// APITABLES_* environment overrides and fills defaults. It does not validate;
// callers apply their own overrides and then call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() error {
	setString(&c.BaseURI, "BASE_URI")
	setString(&c.SpecLocation, "SPEC_LOCATION")
	setString(&c.Spec.RefreshCron, "SPEC_REFRESH_CRON")
	setString(&c.Auth.Type, "AUTH_TYPE")
	setString(&c.Auth.TokenEndpoint, "AUTH_TOKEN_ENDPOINT")
	setString(&c.Auth.ClientID, "AUTH_CLIENT_ID")
	setString(&c.Auth.ClientSecret, "AUTH_CLIENT_SECRET")
	setList(&c.Auth.Scopes, "AUTH_SCOPES")
	setString(&c.Auth.Username, "AUTH_USERNAME")
	setString(&c.Auth.Password, "AUTH_PASSWORD")
	setString(&c.Adapter.Script, "ADAPTER_SCRIPT")
	setString(&c.ObjectStore.S3.Region, "S3_REGION")
	setString(&c.ObjectStore.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.ObjectStore.S3.KeyID, "S3_KEY_ID")
	setString(&c.ObjectStore.S3.Secret, "S3_SECRET")
	setString(&c.ObjectStore.GCS.CredentialsFile, "GCS_CREDENTIALS_FILE")
	setString(&c.ObjectStore.Azure.Account, "AZURE_ACCOUNT")
	setString(&c.ObjectStore.Azure.Key, "AZURE_KEY")
	setString(&c.ObjectStore.Azure.Endpoint, "AZURE_ENDPOINT")
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
	setList(&c.Server.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")
	setString(&c.Server.JWTSecret, "JWT_SECRET")
	setString(&c.Server.IssuerURL, "AUTH_ISSUER_URL")
	setString(&c.Server.Audience, "AUTH_AUDIENCE")
	setString(&c.MetaDBPath, "META_DB_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Env, "ENV")

	var errs []error
	errs = append(errs,
		setBool(&c.Spec.SkipValidation, "SPEC_SKIP_VALIDATION"),
		setDuration(&c.HTTP.Timeout, "HTTP_TIMEOUT"),
		setFloat(&c.HTTP.RateLimitRPS, "HTTP_RATE_LIMIT_RPS"),
		setInt(&c.HTTP.RateLimitBurst, "HTTP_RATE_LIMIT_BURST"),
		setInt(&c.Fetch.Parallelism, "FETCH_PARALLELISM"),
		setDuration(&c.Adapter.Timeout, "ADAPTER_TIMEOUT"),
		setDuration(&c.HistoryRetention, "HISTORY_RETENTION"),
		setFloat(&c.Server.RateLimitRPS, "RATE_LIMIT_RPS"),
		setInt(&c.Server.RateLimitBurst, "RATE_LIMIT_BURST"),
	)
	if v := os.Getenv(EnvPrefix + "ADAPTER_MAX_STEPS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sADAPTER_MAX_STEPS: %w", EnvPrefix, err))
		} else {
			c.Adapter.MaxSteps = n
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Auth.Type == "" {
		c.Auth.Type = AuthNone
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst == 0 {
		c.HTTP.RateLimitBurst = 1
	}
	if c.Fetch.Parallelism == 0 {
		c.Fetch.Parallelism = 4
	}
	if c.Adapter.MaxSteps == 0 {
		c.Adapter.MaxSteps = 1_000_000
	}
	if c.Adapter.Timeout == 0 {
		c.Adapter.Timeout = 5 * time.Second
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 100
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 200
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}
	if c.MetaDBPath == "" {
		c.MetaDBPath = "apitables_meta.sqlite"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if !c.Server.AuthEnabled() {
		c.Warnings = append(c.Warnings, "API auth is not configured: set APITABLES_JWT_SECRET or APITABLES_AUTH_ISSUER_URL")
	}
}

// Validate checks the configuration before any upstream request is made.
// Production mode additionally rejects insecure server settings.
func (c *Config) Validate() error {
	if c.BaseURI == "" {
		return fmt.Errorf("base_uri is required")
	}
	u, err := url.Parse(c.BaseURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_uri %q must be an absolute URL", c.BaseURI)
	}
	if c.SpecLocation == "" {
		return fmt.Errorf("spec_location is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.HTTP.RateLimitRPS < 0 || c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("history_retention must not be negative")
	}
	if c.Fetch.Parallelism < 1 {
		return fmt.Errorf("fetch.parallelism must be at least 1")
	}
	if c.Spec.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.Spec.RefreshCron); err != nil {
			return fmt.Errorf("spec.refresh_cron: %w", err)
		}
	}
	if c.Server.IssuerURL != "" && c.Server.Audience == "" {
		return fmt.Errorf("server.audience is required when server.issuer_url is set")
	}

	if c.IsProduction() {
		if !c.Server.AuthEnabled() {
			return fmt.Errorf("API auth must be configured in production (set server.jwt_secret or server.issuer_url)")
		}
		if len(c.Server.CORSAllowedOrigins) == 1 && c.Server.CORSAllowedOrigins[0] == "*" {
			return fmt.Errorf("CORS wildcard (*) is not allowed in production")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*dst = compactNonEmpty(parts)
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(EnvPrefix + key)))
	switch v {
	case "":
		return nil
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, key, v)
	}
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
