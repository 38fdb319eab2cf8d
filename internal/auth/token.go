package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSecret signs tokens when no secret is configured. Deployments are
// expected to set SECRET_KEY.
const DefaultSecret = "your-secret-key-123"

// DefaultTokenTTL is how long an issued token stays valid
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrUnauthorized means the request carried no usable bearer token
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken means the token failed signature or expiry checks
	ErrInvalidToken = errors.New("invalid token")
)

// TokenService issues and verifies HS256 bearer tokens whose subject is the user ID
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. An empty secret falls back to DefaultSecret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if secret == "" {
		secret = DefaultSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the service that reads time from now
func (t *TokenService) WithClock(now func() time.Time) *TokenService {
	c := *t
	c.now = now
	return &c
}

// Issue signs a token for userID
func (t *TokenService) Issue(userID string) (string, error) {
	issuedAt := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(t.ttl)),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns its subject
func (t *TokenService) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// VerifyHeader extracts the bearer token from an Authorization header value and verifies it
func (t *TokenService) VerifyHeader(header string) (string, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", ErrUnauthorized
	}
	return t.Verify(tokenString)
}
