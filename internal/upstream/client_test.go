package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitables/internal/config"
	"apitables/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoAuth answers with the Authorization header it received.
func echoAuth() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
}

func get(t *testing.T, ctx context.Context, client *http.Client, url string) string {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewClient_NoAuth(t *testing.T) {
	srv := echoAuth()
	defer srv.Close()

	client, err := NewClient(context.Background(), &config.Config{Auth: config.UpstreamAuthConfig{Type: config.AuthNone}}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, get(t, context.Background(), client, srv.URL))
}

func TestNewClient_Basic(t *testing.T) {
	srv := echoAuth()
	defer srv.Close()

	cfg := &config.Config{Auth: config.UpstreamAuthConfig{Type: config.AuthBasic, Username: "alice", Password: "s3cret"}}
	client, err := NewClient(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Basic YWxpY2U6czNjcmV0", get(t, context.Background(), client, srv.URL))
	assert.Empty(t, get(t, WithoutAuth(context.Background()), client, srv.URL))
}

func TestNewClient_ClientCredentials(t *testing.T) {
	var tokenCalls int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()
	srv := echoAuth()
	defer srv.Close()

	cfg := &config.Config{Auth: config.UpstreamAuthConfig{
		Type:          config.AuthClientCredentials,
		TokenEndpoint: tokenSrv.URL,
		ClientID:      "cid",
		ClientSecret:  "secret",
	}}
	client, err := NewClient(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", get(t, context.Background(), client, srv.URL))
	assert.Equal(t, "Bearer tok-1", get(t, context.Background(), client, srv.URL))
	assert.Equal(t, 1, tokenCalls, "token is cached until expiry")
}

func TestNewClient_InvalidAuth(t *testing.T) {
	_, err := NewClient(context.Background(), &config.Config{Auth: config.UpstreamAuthConfig{Type: config.AuthBasic}}, testLogger())
	require.Error(t, err)
}

func TestNewClient_RateLimitHonoursContext(t *testing.T) {
	srv := echoAuth()
	defer srv.Close()

	cfg := &config.Config{HTTP: config.HTTPConfig{RateLimitRPS: 0.001, RateLimitBurst: 1}}
	client, err := NewClient(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	get(t, context.Background(), client, srv.URL) // consumes the burst

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRequiresAuth(t *testing.T) {
	sec := domain.Security{Paths: map[string]map[domain.Method][]domain.SecurityRequirement{
		"/public":  {domain.MethodGet: {}},
		"/private": {domain.MethodGet: {{"bearerAuth": nil}}},
	}}
	assert.False(t, RequiresAuth(sec, "/public", domain.MethodGet))
	assert.True(t, RequiresAuth(sec, "/private", domain.MethodGet))
	assert.True(t, RequiresAuth(sec, "/other", domain.MethodGet))
}
