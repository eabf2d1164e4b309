package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"marketplace-client/internal/metrics"
)

// CurrentSchemaVersion is stamped under KeySchemaVersion. Bump it together
// with a migration in EnsureSchemaVersion whenever a stored shape changes.
const CurrentSchemaVersion = 1

// CredentialStore is the single entry point for persisted credentials.
// It prefers the secure backend, probes the plain backend on a miss, and
// never returns a backend error: failures are logged and reported as
// false or a miss so the calling flow keeps running.
type CredentialStore struct {
	secure  Backend
	plain   Backend
	metrics *metrics.Recorder
}

// NewCredentialStore wires the two backends. secure may be nil when the
// host has no secure storage; plain is required.
func NewCredentialStore(secure Backend, plain Backend, rec *metrics.Recorder) *CredentialStore {
	if plain == nil {
		plain = NewMemoryBackend()
	}

	return &CredentialStore{secure: secure, plain: plain, metrics: rec}
}

func (s *CredentialStore) SecureBackend() string {
	if s.secure == nil {
		return "none"
	}
	return s.secure.Name()
}

func (s *CredentialStore) PlainBackend() string {
	return s.plain.Name()
}

func (s *CredentialStore) Set(ctx context.Context, key string, value string) bool {
	if err := ValidateKey(key); err != nil {
		slog.Error("credential store rejected key", "op", "set", "key", key, "error", err)
		return false
	}

	target := s.plain
	if s.secure != nil {
		target = s.secure
	}

	if err := target.Set(ctx, key, value); err != nil {
		s.logFailure(target, "set", key, err)
		return false
	}

	return true
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, bool) {
	if err := ValidateKey(key); err != nil {
		slog.Error("credential store rejected key", "op", "get", "key", key, "error", err)
		return "", false
	}

	if s.secure != nil {
		value, ok, err := s.secure.Get(ctx, key)
		if err != nil {
			s.logFailure(s.secure, "get", key, err)
		} else if ok {
			return value, true
		}
	}

	// Values written before the secure backend became available live here.
	value, ok, err := s.plain.Get(ctx, key)
	if err != nil {
		s.logFailure(s.plain, "get", key, err)
		return "", false
	}

	return value, ok
}

// Remove deletes key from both backends so a migrated value cannot
// resurface from the plain store.
func (s *CredentialStore) Remove(ctx context.Context, key string) bool {
	if err := ValidateKey(key); err != nil {
		slog.Error("credential store rejected key", "op", "remove", "key", key, "error", err)
		return false
	}

	ok := true
	if s.secure != nil {
		if err := s.secure.Remove(ctx, key); err != nil {
			s.logFailure(s.secure, "remove", key, err)
			ok = false
		}
	}

	if err := s.plain.Remove(ctx, key); err != nil {
		s.logFailure(s.plain, "remove", key, err)
		ok = false
	}

	return ok
}

func (s *CredentialStore) RemoveAll(ctx context.Context, keys ...string) bool {
	ok := true
	for _, key := range keys {
		if !s.Remove(ctx, key) {
			ok = false
		}
	}
	return ok
}

func (s *CredentialStore) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.Error("credential store value corrupted", "op", "decode", "key", key, "error", err)
		s.metrics.StoreFailure("codec", "decode")
		return false
	}

	return true
}

func (s *CredentialStore) SetJSON(ctx context.Context, key string, value any) bool {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Error("credential store cannot encode value", "op", "encode", "key", key, "error", err)
		s.metrics.StoreFailure("codec", "encode")
		return false
	}

	return s.Set(ctx, key, string(data))
}

// EnsureSchemaVersion stamps the current layout version. Data written
// before stamping existed is version 1 by definition. A newer stamp means
// a later build wrote this device; it is logged and left untouched.
func (s *CredentialStore) EnsureSchemaVersion(ctx context.Context) int {
	raw, ok := s.Get(ctx, KeySchemaVersion)
	if !ok {
		s.Set(ctx, KeySchemaVersion, strconv.Itoa(CurrentSchemaVersion))
		return CurrentSchemaVersion
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("credential schema stamp unreadable; restamping", "key", KeySchemaVersion)
		s.Set(ctx, KeySchemaVersion, strconv.Itoa(CurrentSchemaVersion))
		return CurrentSchemaVersion
	}

	if version > CurrentSchemaVersion {
		slog.Warn("credential schema is newer than this build", "stored", version, "supported", CurrentSchemaVersion)
	}

	return version
}

func (s *CredentialStore) logFailure(backend Backend, op string, key string, err error) {
	slog.Error("credential store operation failed",
		"backend", backend.Name(),
		"op", op,
		"key", key,
		"error", err,
	)
	s.metrics.StoreFailure(backend.Name(), op)
}
