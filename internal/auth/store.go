// Package auth stores the access token used to authenticate against the backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// ServiceName is the keyring service under which the token is stored
	ServiceName = "examsync"

	// TokenKey is the fixed key of the access token
	TokenKey = "access_token"
)

// Backend names accepted by NewStore
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

var (
	// ErrNotLoggedIn is returned when no token is stored
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTokenExpired is returned when the stored token has expired
	ErrTokenExpired = errors.New("access token expired")
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store persists the access token
type Store interface {
	// Token returns the stored token, or "" when none is stored
	Token(ctx context.Context) (string, error)

	// Save replaces the stored token
	Save(ctx context.Context, token string) error

	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// NewStore creates the store for the given backend. path is only used by the file backend;
// an empty path selects the default location under the XDG state directory.
func NewStore(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendKeyring:
		return NewKeyringStore(), nil
	case BackendFile:
		if path == "" {
			p, err := DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported auth backend %q (expected %s or %s)", backend, BackendKeyring, BackendFile)
	}
}

func normalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("token must not be empty")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return "", fmt.Errorf("token must not contain whitespace")
	}
	return token, nil
}
