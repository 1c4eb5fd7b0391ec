package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the token in the operating system keyring
type KeyringStore struct {
	service string
	user    string
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a store using the examsync keyring service
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: ServiceName, user: TokenKey}
}

// Token implements Store.Token
func (s *KeyringStore) Token(_ context.Context) (string, error) {
	token, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from keyring: %w", err)
	}
	return token, nil
}

// Save implements Store.Save
func (s *KeyringStore) Save(_ context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, s.user, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// Clear implements Store.Clear
func (s *KeyringStore) Clear(_ context.Context) error {
	err := keyring.Delete(s.service, s.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove token from keyring: %w", err)
	}
	return nil
}
