package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-long-xxxxx"

// makeToken creates a signed HS256 JWT from the given secret and claims.
func makeToken(secret string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(secret))
	return signed
}

func TestNewSharedSecretValidator_RequiresSecret(t *testing.T) {
	_, err := NewSharedSecretValidator("", "")
	require.Error(t, err)
}

func TestSharedSecretValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		audience  string
		token     string
		wantErr   bool
		wantSub   string
		wantEmail string
		wantAud   []string
	}{
		{
			name: "all claims",
			token: makeToken(testSecret, jwt.MapClaims{
				"sub":   "user-123",
				"iss":   "https://auth.example.com",
				"email": "user@example.com",
				"aud":   "apitables",
				"exp":   time.Now().Add(time.Hour).Unix(),
			}),
			audience:  "apitables",
			wantSub:   "user-123",
			wantEmail: "user@example.com",
			wantAud:   []string{"apitables"},
		},
		{
			name:    "no audience configured",
			token:   makeToken(testSecret, jwt.MapClaims{"sub": "svc"}),
			wantSub: "svc",
		},
		{
			name:     "wrong audience",
			token:    makeToken(testSecret, jwt.MapClaims{"sub": "u", "aud": "other"}),
			audience: "apitables",
			wantErr:  true,
		},
		{
			name:    "expired",
			token:   makeToken(testSecret, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   makeToken("another-secret", jwt.MapClaims{"sub": "u"}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not-a-jwt",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := NewSharedSecretValidator(testSecret, tt.audience)
			require.NoError(t, err)

			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantEmail, claims.Email)
			assert.Equal(t, tt.wantAud, claims.Audience)
		})
	}
}

func TestSharedSecretValidator_RejectsOtherAlgorithms(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u"})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	v, err := NewSharedSecretValidator(testSecret, "")
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), signed)
	require.Error(t, err)
}
