// Package credential keeps the developer's Jira access token for local
// smoke tests in the system keyring. Tokens the voice platform sends with
// each request never pass through here.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "tasktalk"

	// DevTokenKey names the keyring item holding the smoke-test token.
	DevTokenKey = "jira-access-token"
)

// ErrNoToken is returned when no token has been stored.
var ErrNoToken = errors.New("no access token stored; run `tasktalk auth set`")

// Vault stores the access token in a keyring.
type Vault struct {
	ring keyring.Keyring
}

// Open opens the system keyring, falling back to an encrypted file under
// configDir when no native backend is available.
func Open(configDir string) (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(configDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("tasktalk-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Token returns the stored access token, or ErrNoToken.
func (v *Vault) Token() (string, error) {
	item, err := v.ring.Get(DevTokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", DevTokenKey, err)
	}

	token := strings.TrimSpace(string(item.Data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SetToken stores token, replacing any previous one.
func (v *Vault) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("access token must not be empty")
	}

	err := v.ring.Set(keyring.Item{
		Key:         DevTokenKey,
		Data:        []byte(token),
		Label:       "Task Talk Jira access token",
		Description: "OAuth access token used by tasktalk try",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", DevTokenKey, err)
	}
	return nil
}

// ClearToken removes the stored token. Clearing an empty vault is not an
// error.
func (v *Vault) ClearToken() error {
	err := v.ring.Remove(DevTokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", DevTokenKey, err)
	}
	return nil
}
