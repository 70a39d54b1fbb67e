package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for bearer tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer signs and validates HS256 session tokens whose subject is the
// user id.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	nowFn      func() time.Time
}

// NewTokenIssuer returns a TokenIssuer.
func NewTokenIssuer(signingKey string, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl, nowFn: time.Now}
}

// Issue signs a token for userID.
func (issuer *TokenIssuer) Issue(userID string) (string, error) {
	now := issuer.nowFn().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(issuer.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.signingKey)
}

// Validate parses token and returns its subject.
func (issuer *TokenIssuer) Validate(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(issuer.nowFn),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return issuer.signingKey, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
