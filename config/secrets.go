package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring entries holding adapter credentials, stored under the AppName service.
const (
	WallhavenAPIKey = "wallhaven_api_key" // WallhavenAPIKey is the keyring user for the wallhaven API key
	PexelsAPIKey    = "pexels_api_key"    // PexelsAPIKey is the keyring user for the Pexels API key
)

// ErrSecretNotFound is returned when the keyring holds no entry for a name.
var ErrSecretNotFound = errors.New("secret not found")

// GetSecret returns the credential stored in the OS keyring under name.
func GetSecret(name string) (string, error) {
	secret, err := keyring.Get(AppName, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to retrieve %s from keyring: %w", name, err)
	}
	return secret, nil
}

// SetSecret stores a credential in the OS keyring. An empty secret deletes the entry.
func SetSecret(name, secret string) error {
	if secret == "" {
		err := keyring.Delete(AppName, name)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete %s from keyring: %w", name, err)
		}
		return nil
	}
	if err := keyring.Set(AppName, name, secret); err != nil {
		return fmt.Errorf("failed to save %s to keyring: %w", name, err)
	}
	return nil
}
