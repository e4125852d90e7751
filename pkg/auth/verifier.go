package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsehq/pulse-engine/pkg/config"
)

// TokenVerifier validates a JWT token string and returns its claims.
type TokenVerifier interface {
	ValidateToken(tokenString string) (*Claims, error)
	Close()
}

// Verifier validates tokens against the issuer's JWKS endpoint. When no JWKS
// endpoint is configured, locally issued HS256 session tokens are accepted
// using the session secret. With verification disabled (development mode)
// tokens are parsed without signature checks.
type Verifier struct {
	cfg           *config.AuthConfig
	sessionSecret []byte
	jwks          keyfunc.Keyfunc
}

// NewVerifier creates a token verifier. The JWKS is fetched eagerly so a
// misconfigured endpoint fails at startup, not on the first request.
func NewVerifier(cfg *config.AuthConfig, sessionSecret string) (*Verifier, error) {
	v := &Verifier{cfg: cfg, sessionSecret: []byte(sessionSecret)}

	if !cfg.EnableVerification {
		return v, nil
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to load JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
	} else if sessionSecret == "" {
		return nil, errors.New("auth verification enabled but neither a JWKS URL nor a session secret is configured")
	}

	return v, nil
}

// ValidateToken validates a JWT and returns the claims.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	if !v.cfg.EnableVerification {
		return parseUnverified(tokenString)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.jwks == nil {
				return nil, errors.New("no JWKS configured for RSA tokens")
			}
			claims, ok := token.Claims.(*Claims)
			if !ok {
				return nil, errors.New("invalid claims type")
			}
			if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
				return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
			}
			return v.jwks.KeyfuncCtx(context.Background())(token)
		case *jwt.SigningMethodHMAC:
			if len(v.sessionSecret) == 0 {
				return nil, errors.New("no session secret configured for HMAC tokens")
			}
			return v.sessionSecret, nil
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// parseUnverified parses a JWT without verifying the signature. Development
// mode only.
func parseUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// Close releases verifier resources. keyfunc v3 needs no explicit cleanup.
func (v *Verifier) Close() {}

var _ TokenVerifier = (*Verifier)(nil)
