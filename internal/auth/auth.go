// Package auth validates bearer tokens for both the admin REST surface and
// the WebSocket upgrade handshake. Identity issuance itself lives outside
// this service (§1's external collaborator boundary); this package only
// verifies tokens minted elsewhere against a shared signing secret and
// extracts the claims notifyd needs: subject (user id) and tenant id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// AuthError carries an HTTP status alongside a machine-readable code, so
// RequireAuth can render a structured response without guessing.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func errInvalidToken(msg string) *AuthError {
	return &AuthError{Status: http.StatusUnauthorized, Code: "invalid_token", Message: msg}
}

// Claims is the JWT claim set notifyd expects: a subject (user id) and a
// tenant id, both required.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Service validates tokens against a shared HMAC secret.
type Service struct {
	secret []byte
}

// NewService constructs a Service. secret must be non-empty.
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// ValidateSession parses and verifies token, returning the subject (user id).
// Satisfies the shape RequireAuth/OptionalAuth expect.
func (s *Service) ValidateSession(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ValidateForTenant parses and verifies token, additionally requiring its
// tenant_id claim to match tenantID — the check §4.7 names for WebSocket
// upgrade: "reject ... if ... its tenant claim mismatches the path".
func (s *Service) ValidateForTenant(token, tenantID string) (userID string, err error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	if claims.TenantID != tenantID {
		return "", errInvalidToken("token tenant does not match path tenant")
	}
	return claims.Subject, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, errInvalidToken("empty token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errInvalidToken("token expired")
		}
		return nil, errInvalidToken("malformed token")
	}
	if !parsed.Valid {
		return nil, errInvalidToken("invalid token")
	}
	if claims.Subject == "" {
		return nil, errInvalidToken("token missing subject")
	}
	if claims.TenantID == "" {
		return nil, errInvalidToken("token missing tenant_id")
	}
	return claims, nil
}
