package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeToken creates a signed HS256 JWT from the given secret and claims.
func makeToken(secret string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(secret))
	return signed
}

func TestNewHS256Validator(t *testing.T) {
	t.Parallel()

	v, err := NewHS256Validator("my-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("my-secret"), v.secret)

	_, err = NewHS256Validator("")
	require.Error(t, err)
}

func TestHS256Validator_Validate(t *testing.T) {
	t.Parallel()

	const secret = "test-secret-32-bytes-long-xxxxx"
	v, err := NewHS256Validator(secret)
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		wantErr   string
		wantSub   string
		wantIss   string
		wantAud   []string
		wantRoles []string
	}{
		{
			name: "valid token with all claims",
			token: makeToken(secret, jwt.MapClaims{
				"sub":   "scheduler-bot",
				"iss":   "https://auth.example.com",
				"aud":   "etl",
				"roles": []string{"operator"},
				"exp":   time.Now().Add(time.Hour).Unix(),
			}),
			wantSub:   "scheduler-bot",
			wantIss:   "https://auth.example.com",
			wantAud:   []string{"etl"},
			wantRoles: []string{"operator"},
		},
		{
			name: "single role string",
			token: makeToken(secret, jwt.MapClaims{
				"sub":   "ops",
				"roles": "admin",
			}),
			wantSub:   "ops",
			wantRoles: []string{"admin"},
		},
		{
			name: "expired",
			token: makeToken(secret, jwt.MapClaims{
				"sub": "ops",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: "token verification failed",
		},
		{
			name:    "wrong secret",
			token:   makeToken("other-secret", jwt.MapClaims{"sub": "ops"}),
			wantErr: "token verification failed",
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: "token verification failed",
		},
		{
			name: "none algorithm",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ops"})
				s, _ := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				return s
			}(),
			wantErr: "token verification failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := v.Validate(t.Context(), tt.token)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantIss, claims.Issuer)
			assert.Equal(t, tt.wantAud, claims.Audience)
			assert.Equal(t, tt.wantRoles, claims.Roles)
		})
	}
}
