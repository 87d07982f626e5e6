// Package upstream builds the HTTP client used to call the described API:
// outbound rate limiting, authentication and timeouts.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"apitables/internal/config"
	"apitables/internal/domain"
)

type skipAuthKey struct{}

// WithoutAuth marks requests made with ctx as not needing credentials.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey{}, true)
}

func authSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey{}).(bool)
	return v
}

// RequiresAuth reports whether calls to method path should carry credentials.
// Only an operation that explicitly declares an empty security list opts out.
func RequiresAuth(sec domain.Security, path string, method domain.Method) bool {
	if reqs, ok := sec.Paths[path][method]; ok {
		return len(reqs) > 0
	}
	return true
}

// NewClient builds the outbound client for cfg. ctx bounds token fetches for
// the client-credentials flow.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*http.Client, error) {
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	var rt http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HTTP.RateLimitRPS > 0 {
		rt = &rateLimitTransport{
			base:    rt,
			limiter: rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimitRPS), max(cfg.HTTP.RateLimitBurst, 1)),
		}
	}

	switch cfg.Auth.Type {
	case config.AuthClientCredentials:
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenEndpoint,
			Scopes:       cfg.Auth.Scopes,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: rt, Timeout: cfg.HTTP.Timeout})
		rt = &authTransport{
			base:   rt,
			authed: &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: rt},
		}
	case config.AuthBasic:
		rt = &authTransport{
			base:   rt,
			authed: &basicAuthTransport{base: rt, username: cfg.Auth.Username, password: cfg.Auth.Password},
		}
	case "", config.AuthNone:
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}

	logger.With("component", "upstream").Debug("upstream client configured",
		"auth", cfg.Auth.Type,
		"timeout", cfg.HTTP.Timeout,
		"rate_limit_rps", cfg.HTTP.RateLimitRPS,
	)
	return &http.Client{Transport: rt, Timeout: cfg.HTTP.Timeout}, nil
}

// rateLimitTransport waits for the limiter before each request.
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return t.base.RoundTrip(req)
}

// authTransport routes requests through authed unless the context opts out.
type authTransport struct {
	base   http.RoundTripper
	authed http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if authSkipped(req.Context()) {
		return t.base.RoundTrip(req)
	}
	return t.authed.RoundTrip(req)
}

type basicAuthTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(r)
}
