package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const probeKey = "auth.probe"

// KeyringBackend stores values in the OS keychain (Keychain, Secret
// Service, Windows Credential Manager) under a single service name.
type KeyringBackend struct {
	service string
}

func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Name() string { return "keyring" }

func (k *KeyringBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyring get %q: %w", key, err)
	}

	return value, true, nil
}

func (k *KeyringBackend) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %q: %w", key, err)
	}

	return nil
}

func (k *KeyringBackend) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %q: %w", key, err)
	}

	return nil
}

// Probe round-trips a throwaway value to detect whether the host actually
// has a usable keychain (headless Linux often has the API but no daemon).
func (k *KeyringBackend) Probe(ctx context.Context) error {
	if err := k.Set(ctx, probeKey, "ok"); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	value, ok, err := k.Get(ctx, probeKey)
	if err != nil || !ok || value != "ok" {
		return fmt.Errorf("%w: keyring probe read back failed", ErrUnavailable)
	}

	return k.Remove(ctx, probeKey)
}
