// Package auth implements the C11 authentication primitives: bearer token
// issuance/verification via golang-jwt/jwt/v5 (grounded on cagent's
// pkg/desktop/login.go, which parses but does not issue tokens — issuance
// here follows the same library's idiomatic NewWithClaims/SignedString
// pair) and password hashing via golang.org/x/crypto/argon2.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fabfab/ragsentry/internal/domain"
)

// TokenIssuer issues and verifies HS256 bearer tokens carrying a user id
// subject claim.
type TokenIssuer struct {
	secret        []byte
	expireMinutes int
}

// NewTokenIssuer constructs a TokenIssuer. A zero-length secret makes every
// call fail, since an empty JWT secret is a configuration error, not a
// degraded mode.
func NewTokenIssuer(secret string, expireMinutes int) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expireMinutes: expireMinutes}
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue returns a signed token for userID, valid for the configured
// expiry window.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	if len(t.secret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(t.expireMinutes) * time.Minute)),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning the subject
// (user id) claim on success. Any parse failure, signature mismatch, or
// expiry is surfaced as *domain.Error{Kind: KindUnauthenticated}.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", domain.NewError(domain.KindUnauthenticated, "invalid or expired token", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", domain.NewError(domain.KindUnauthenticated, "invalid token claims", nil)
	}
	return c.Subject, nil
}
