package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt returns the exp claim of a JWT access token. The signature is not
// verified; only the server can do that. ok is false for opaque tokens and
// tokens without an exp claim.
func ExpiresAt(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether the token carries an exp claim at or before now
func Expired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// TokenSource adapts a Store to the token function used by the HTTP client
type TokenSource struct {
	store Store
	now   func() time.Time
}

// NewTokenSource wraps store
func NewTokenSource(store Store) *TokenSource {
	return &TokenSource{store: store, now: time.Now}
}

// Token returns the stored token. An empty store yields "" so requests go
// out unauthenticated; an expired JWT yields ErrTokenExpired.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.store.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if Expired(token, s.now()) {
		return "", fmt.Errorf("%w: run \"examsync login\" again", ErrTokenExpired)
	}
	return token, nil
}

// Require returns the stored token or ErrNotLoggedIn
func (s *TokenSource) Require(ctx context.Context) (string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}
