package storage

import (
	"context"
	"errors"
)

var (
	ErrUnavailable = errors.New("storage backend unavailable")
	ErrCorrupted   = errors.New("stored value is corrupted")
)

// Backend is one concrete key/value store. Implementations report
// failures as errors; CredentialStore is the layer that swallows them.
// A missing key is ("", false, nil), never an error.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}
