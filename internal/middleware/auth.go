package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"apitables/internal/domain"
)

// Authenticator requires a valid bearer token on every request and stores
// the caller as the context principal.
type Authenticator struct {
	validator TokenValidator
	nameClaim string
	logger    *slog.Logger
}

// NewAuthenticator creates an Authenticator. nameClaim selects the claim used
// as principal name and defaults to "sub".
func NewAuthenticator(validator TokenValidator, nameClaim string, logger *slog.Logger) *Authenticator {
	if nameClaim == "" {
		nameClaim = "sub"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{validator: validator, nameClaim: nameClaim, logger: logger}
}

// Middleware returns the authentication middleware.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := a.validator.Validate(r.Context(), token)
			if err != nil {
				a.logger.Debug("token rejected", "error", err, "request_id", domain.RequestIDFromContext(r.Context()))
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			name := a.principalName(claims)
			if name == "" {
				writeUnauthorized(w, "token has no "+a.nameClaim+" claim")
				return
			}
			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{Name: name, Type: "user"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) principalName(c *Claims) string {
	switch a.nameClaim {
	case "sub":
		return c.Subject
	case "email":
		return c.Email
	}
	s, _ := c.Raw[a.nameClaim].(string)
	return s
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="apitables"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    http.StatusUnauthorized,
		"message": "unauthorized: " + msg,
	})
}
