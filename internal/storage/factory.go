package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"marketplace-client/internal/database"
	"marketplace-client/internal/metrics"
)

const (
	SecureAuto          = "auto"
	SecureKeyring       = "keyring"
	SecureEncryptedFile = "encrypted-file"
	SecureNone          = "none"

	PlainFile     = "file"
	PlainSQLite   = "sqlite"
	PlainPostgres = "postgres"
	PlainMemory   = "memory"
)

type Options struct {
	Dir            string
	Secure         string
	Passphrase     string
	KeyringService string
	Plain          string
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	Namespace      string
	Metrics        *metrics.Recorder
}

// New selects the backends once, at startup, so no call site ever branches
// on platform. The returned cleanup releases any open handles.
func New(ctx context.Context, opts Options) (*CredentialStore, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	plain, closePlain, err := newPlainBackend(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if closePlain != nil {
		cleanups = append(cleanups, closePlain)
	}

	secure, err := newSecureBackend(ctx, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	store := NewCredentialStore(secure, plain, opts.Metrics)
	store.EnsureSchemaVersion(ctx)

	slog.Info("credential store ready", "secure", store.SecureBackend(), "plain", store.PlainBackend())
	return store, cleanup, nil
}

func newSecureBackend(ctx context.Context, opts Options) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Secure))
	secureDir := filepath.Join(opts.Dir, "secure")

	switch mode {
	case SecureNone:
		return nil, nil
	case SecureKeyring:
		backend := NewKeyringBackend(opts.KeyringService)
		if err := backend.Probe(ctx); err != nil {
			return nil, fmt.Errorf("keyring backend: %w", err)
		}
		return backend, nil
	case SecureEncryptedFile:
		return NewEncryptedFileBackend(secureDir, opts.Passphrase)
	case SecureAuto, "":
		backend := NewKeyringBackend(opts.KeyringService)
		probeErr := backend.Probe(ctx)
		if probeErr == nil {
			return backend, nil
		}

		if opts.Passphrase != "" {
			slog.Info("os keychain unavailable; using encrypted file store", "reason", probeErr)
			return NewEncryptedFileBackend(secureDir, opts.Passphrase)
		}

		slog.Warn("no secure storage available; credentials fall back to the plain store", "reason", probeErr)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown secure backend %q", opts.Secure)
	}
}

func newPlainBackend(ctx context.Context, opts Options) (Backend, func(), error) {
	switch strings.ToLower(strings.TrimSpace(opts.Plain)) {
	case PlainFile, "":
		backend, err := NewFileBackend(filepath.Join(opts.Dir, "plain"))
		return backend, nil, err
	case PlainSQLite:
		backend, err := OpenSQLite(filepath.Join(opts.Dir, "session.db"))
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { _ = backend.Close() }, nil
	case PlainPostgres:
		db, err := database.Open(ctx, database.Config{
			URL:       opts.DatabaseURL,
			MaxConns:  opts.DBMaxConns,
			MinConns:  opts.DBMinConns,
			Namespace: opts.Namespace,
		})
		if err != nil {
			return nil, nil, err
		}
		backend, err := NewPostgresBackend(db.Pool, db.Namespace())
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return backend, db.Close, nil
	case PlainMemory:
		return NewMemoryBackend(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown plain backend %q", opts.Plain)
	}
}
