// Package security provides credential storage, login throttling and path
// guards for synology-mcp.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name used for keyring entries.
	KeyringService = "synology-mcp"
)

// KeyringStore keeps endpoint passwords in the OS keyring (macOS Keychain,
// Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	enabled bool
	mu      sync.RWMutex
}

// NewKeyringStore creates a new keyring store.
// If the system keyring is not available, the store will be disabled.
func NewKeyringStore() *KeyringStore {
	ks := &KeyringStore{
		enabled: true,
	}

	testKey := "__synology_mcp_test__"
	if err := keyring.Set(KeyringService, testKey, "test"); err != nil {
		slog.Debug("keyring not available",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, testKey)

	slog.Debug("keyring storage enabled")
	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// StoreEndpointPassword stores the password of user on endpoint.
func (ks *KeyringStore) StoreEndpointPassword(endpoint, user string, password []byte) error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}

	encoded := base64.StdEncoding.EncodeToString(password)
	if err := keyring.Set(KeyringService, fmt.Sprintf(keyEndpointFmt, user, endpoint), encoded); err != nil {
		return fmt.Errorf("failed to store endpoint password: %w", err)
	}

	slog.Debug("stored endpoint password in keyring",
		slog.String("user", user),
		slog.String("endpoint", endpoint),
	)
	return nil
}

// GetEndpointPassword retrieves the password of user on endpoint. A missing
// entry returns nil, nil.
func (ks *KeyringStore) GetEndpointPassword(endpoint, user string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, errors.New(errKeyringNotAvailable)
	}

	encoded, err := keyring.Get(KeyringService, fmt.Sprintf(keyEndpointFmt, user, endpoint))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get endpoint password: %w", err)
	}

	password, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode endpoint password: %w", err)
	}
	return password, nil
}

// DeleteEndpointPassword removes the password of user on endpoint.
func (ks *KeyringStore) DeleteEndpointPassword(endpoint, user string) error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}

	if err := keyring.Delete(KeyringService, fmt.Sprintf(keyEndpointFmt, user, endpoint)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete endpoint password: %w", err)
	}
	return nil
}
