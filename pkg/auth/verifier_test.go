package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse-engine/pkg/config"
)

func signHS256(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func sessionClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "user@example.com",
		Roles: []string{"admin"},
	}
}

func TestVerifierValidatesSessionTokens(t *testing.T) {
	v, err := NewVerifier(&config.AuthConfig{EnableVerification: true}, "session-secret")
	require.NoError(t, err)
	defer v.Close()

	token := signHS256(t, "session-secret", sessionClaims())

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{"admin"}, claims.Roles)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	v, err := NewVerifier(&config.AuthConfig{EnableVerification: true}, "session-secret")
	require.NoError(t, err)

	token := signHS256(t, "other-secret", sessionClaims())

	_, err = v.ValidateToken(token)
	assert.Error(t, err)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier(&config.AuthConfig{EnableVerification: true}, "session-secret")
	require.NoError(t, err)

	claims := sessionClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signHS256(t, "session-secret", claims)

	_, err = v.ValidateToken(token)
	assert.Error(t, err)
}

func TestVerifierRequiresSecretOrJWKS(t *testing.T) {
	_, err := NewVerifier(&config.AuthConfig{EnableVerification: true}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session secret")
}

func TestVerifierDevModeSkipsSignatureChecks(t *testing.T) {
	v, err := NewVerifier(&config.AuthConfig{EnableVerification: false}, "")
	require.NoError(t, err)

	// Signed with a secret this verifier has never seen.
	token := signHS256(t, "anything", sessionClaims())

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}
