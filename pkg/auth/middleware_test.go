package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func authedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
	r.Header.Set("Authorization", "Bearer token")
	return r
}

func TestRequireAuthPassesClaimsDownstream(t *testing.T) {
	verifier := &stubVerifier{claims: sessionClaims()}
	mw := NewMiddleware(NewAuthService(verifier, zap.NewNop()), zap.NewNop())

	var gotSubject string
	handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = Subject(r.Context())
		token, ok := GetToken(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "token", token)
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, authedRequest())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", gotSubject)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	mw := NewMiddleware(NewAuthService(&stubVerifier{}, zap.NewNop()), zap.NewNop())

	called := false
	handler := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/queries", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		roles      []string
		wantStatus int
	}{
		{name: "matching role", roles: []string{"admin"}, wantStatus: http.StatusOK},
		{name: "one of several", roles: []string{"viewer", "admin"}, wantStatus: http.StatusOK},
		{name: "no matching role", roles: []string{"viewer"}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &stubVerifier{claims: sessionClaims()} // roles: admin
			mw := NewMiddleware(NewAuthService(verifier, zap.NewNop()), zap.NewNop())

			handler := mw.RequireRole(tt.roles...)(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			rec := httptest.NewRecorder()
			handler(rec, authedRequest())
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
