package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubVerifier struct {
	claims *Claims
	err    error

	gotToken string
}

func (v *stubVerifier) ValidateToken(tokenString string) (*Claims, error) {
	v.gotToken = tokenString
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func (v *stubVerifier) Close() {}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantToken  string
		wantSource string
		wantErr    error
	}{
		{
			name: "cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
			},
			wantToken:  "cookie-token",
			wantSource: "cookie",
		},
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-token")
			},
			wantToken:  "header-token",
			wantSource: "header",
		},
		{
			name: "query parameter",
			setup: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", "query-token")
				r.URL.RawQuery = q.Encode()
			},
			wantToken:  "query-token",
			wantSource: "query",
		},
		{
			name: "cookie wins over header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
				r.Header.Set("Authorization", "Bearer header-token")
			},
			wantToken:  "cookie-token",
			wantSource: "cookie",
		},
		{
			name: "header wins over query",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-token")
				q := r.URL.Query()
				q.Set("token", "query-token")
				r.URL.RawQuery = q.Encode()
			},
			wantToken:  "header-token",
			wantSource: "header",
		},
		{
			name: "malformed header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			wantErr: ErrInvalidAuthFormat,
		},
		{
			name:    "nothing",
			setup:   func(r *http.Request) {},
			wantErr: ErrMissingAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
			tt.setup(r)

			token, source, err := extractToken(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	verifier := &stubVerifier{claims: &Claims{Email: "user@example.com"}}
	svc := NewAuthService(verifier, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
	r.Header.Set("Authorization", "Bearer abc")

	claims, token, err := svc.ValidateRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "abc", token)
	assert.Equal(t, "abc", verifier.gotToken)
}

func TestValidateRequestRejectsBadToken(t *testing.T) {
	verifier := &stubVerifier{err: fmt.Errorf("token validation failed")}
	svc := NewAuthService(verifier, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
	r.Header.Set("Authorization", "Bearer abc")

	_, _, err := svc.ValidateRequest(r)
	assert.Error(t, err)
}
