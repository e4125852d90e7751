package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SessionCookie is the cookie browsers carry the session token in.
const SessionCookie = "pulse_session"

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService validates requests and extracts their claims.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request. The
	// token is read from the pulse_session cookie, the Authorization Bearer
	// header, or the token query parameter (websocket clients cannot set
	// headers from a browser).
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

type authService struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthService creates an AuthService over a token verifier.
func NewAuthService(verifier TokenVerifier, logger *zap.Logger) AuthService {
	return &authService{verifier: verifier, logger: logger}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	tokenString, source, err := extractToken(r)
	if err != nil {
		s.logger.Debug("No token found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", err
	}

	claims, err := s.verifier.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("Token validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", source))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func extractToken(r *http.Request) (token, source string, err error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, "cookie", nil
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", "", ErrInvalidAuthFormat
		}
		return parts[1], "header", nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, "query", nil
	}

	return "", "", ErrMissingAuthorization
}

var _ AuthService = (*authService)(nil)
