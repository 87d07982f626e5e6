// Package middleware provides HTTP middleware for the served table API:
// request ids, per-client rate limiting and bearer authentication.
package middleware

import (
	"context"
	"fmt"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the parts of a validated token the API uses.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Email    string
	Raw      map[string]any
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// SharedSecretValidator validates HS256 tokens signed with a shared secret.
type SharedSecretValidator struct {
	secret   []byte
	audience string
}

// NewSharedSecretValidator creates an HS256 validator. When audience is set,
// tokens must carry it in their aud claim.
func NewSharedSecretValidator(secret, audience string) (*SharedSecretValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &SharedSecretValidator{secret: []byte(secret), audience: audience}, nil
}

// Validate verifies signature, expiry and audience.
func (v *SharedSecretValidator) Validate(_ context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return v.secret, nil }, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	c := &Claims{Raw: map[string]any(raw)}
	c.Subject, _ = raw.GetSubject()
	c.Issuer, _ = raw.GetIssuer()
	if aud, err := raw.GetAudience(); err == nil {
		c.Audience = []string(aud)
	}
	c.Email, _ = raw["email"].(string)
	return c, nil
}

// OIDCValidator validates tokens against an OIDC provider's published keys.
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
	issuers  []string
}

// NewOIDCValidator discovers issuerURL and verifies tokens for audience.
// Tokens from issuers outside allowedIssuers are rejected; an empty list
// allows only issuerURL.
func NewOIDCValidator(ctx context.Context, issuerURL, audience string, allowedIssuers ...string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	if len(allowedIssuers) == 0 {
		allowedIssuers = []string{issuerURL}
	}
	return &OIDCValidator{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
		issuers:  allowedIssuers,
	}, nil
}

// Validate verifies the token and checks its issuer.
func (v *OIDCValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !slices.Contains(v.issuers, idToken.Issuer) {
		return nil, fmt.Errorf("issuer %q not allowed", idToken.Issuer)
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	c := &Claims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Raw:      raw,
	}
	c.Email, _ = raw["email"].(string)
	return c, nil
}
