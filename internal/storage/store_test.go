package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/metrics"
)

func TestCredentialStoreWritesToSecureWhenAvailable(t *testing.T) {
	ctx := context.Background()
	secure := NewMemoryBackend()
	plain := NewMemoryBackend()
	store := NewCredentialStore(secure, plain, nil)

	require.True(t, store.Set(ctx, KeyToken, "tok"))

	_, inPlain, _ := plain.Get(ctx, KeyToken)
	assert.False(t, inPlain)

	value, ok := store.Get(ctx, KeyToken)
	require.True(t, ok)
	assert.Equal(t, "tok", value)
}

func TestCredentialStoreFallsBackToPlainWithoutSecure(t *testing.T) {
	ctx := context.Background()
	plain := NewMemoryBackend()
	store := NewCredentialStore(nil, plain, nil)

	require.True(t, store.Set(ctx, KeyToken, "tok"))

	value, ok, err := plain.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", value)
	assert.Equal(t, "none", store.SecureBackend())
	assert.Equal(t, "memory", store.PlainBackend())
}

func TestCredentialStoreGetProbesPlainOnSecureMiss(t *testing.T) {
	ctx := context.Background()
	secure := NewMemoryBackend()
	plain := NewMemoryBackend()
	require.NoError(t, plain.Set(ctx, KeyToken, "written-before-upgrade"))

	store := NewCredentialStore(secure, plain, nil)

	value, ok := store.Get(ctx, KeyToken)
	require.True(t, ok)
	assert.Equal(t, "written-before-upgrade", value)

	require.True(t, store.Set(ctx, KeyToken, "fresh"))
	value, ok = store.Get(ctx, KeyToken)
	require.True(t, ok)
	assert.Equal(t, "fresh", value, "secure value shadows the legacy plain value")
}

func TestCredentialStoreRemoveClearsBothBackends(t *testing.T) {
	ctx := context.Background()
	secure := NewMemoryBackend()
	plain := NewMemoryBackend()
	require.NoError(t, plain.Set(ctx, KeyToken, "legacy"))
	require.NoError(t, secure.Set(ctx, KeyToken, "current"))

	store := NewCredentialStore(secure, plain, nil)
	require.True(t, store.Remove(ctx, KeyToken))
	require.True(t, store.Remove(ctx, KeyToken), "remove is idempotent")

	_, ok := store.Get(ctx, KeyToken)
	assert.False(t, ok)
}

func TestCredentialStoreSwallowsBackendFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	secure := &MockBackend{}
	secure.On("Set", mock.Anything, KeyToken, "tok").Return(errors.New("keychain locked"))
	secure.On("Get", mock.Anything, KeyToken).Return("", false, errors.New("keychain locked"))
	secure.On("Remove", mock.Anything, KeyToken).Return(errors.New("keychain locked"))

	plain := &MockBackend{}
	plain.On("Get", mock.Anything, KeyToken).Return("", false, errors.New("disk full"))
	plain.On("Remove", mock.Anything, KeyToken).Return(nil)

	store := NewCredentialStore(secure, plain, rec)

	assert.NotPanics(t, func() {
		assert.False(t, store.Set(ctx, KeyToken, "tok"))

		value, ok := store.Get(ctx, KeyToken)
		assert.False(t, ok)
		assert.Empty(t, value)

		assert.False(t, store.Remove(ctx, KeyToken))
	})

	_, _, failures, _, _ := rec.Counters()
	assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues("mock", "set")))
	assert.Equal(t, 2.0, testutil.ToFloat64(failures.WithLabelValues("mock", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(failures.WithLabelValues("mock", "remove")))

	secure.AssertExpectations(t)
	plain.AssertExpectations(t)
}

func TestCredentialStoreSecureErrorStillProbesPlain(t *testing.T) {
	ctx := context.Background()

	secure := &MockBackend{}
	secure.On("Get", mock.Anything, KeyIdentitySlug).Return("", false, errors.New("keychain locked"))

	plain := NewMemoryBackend()
	require.NoError(t, plain.Set(ctx, KeyIdentitySlug, "alice"))

	store := NewCredentialStore(secure, plain, nil)
	value, ok := store.Get(ctx, KeyIdentitySlug)
	require.True(t, ok)
	assert.Equal(t, "alice", value)
}

func TestCredentialStoreRejectsInvalidKeys(t *testing.T) {
	store := NewCredentialStore(nil, NewMemoryBackend(), nil)
	ctx := context.Background()

	assert.False(t, store.Set(ctx, "../token", "x"))
	_, ok := store.Get(ctx, "")
	assert.False(t, ok)
	assert.False(t, store.Remove(ctx, "a/b"))
}

func TestCredentialStoreJSONHelpers(t *testing.T) {
	ctx := context.Background()
	plain := NewMemoryBackend()
	store := NewCredentialStore(nil, plain, nil)

	type snapshot struct {
		Slug string `json:"slug"`
	}

	require.True(t, store.SetJSON(ctx, KeyIdentity, snapshot{Slug: "alice"}))

	var got snapshot
	require.True(t, store.GetJSON(ctx, KeyIdentity, &got))
	assert.Equal(t, "alice", got.Slug)

	require.NoError(t, plain.Set(ctx, KeyIdentity, "{not json"))
	assert.False(t, store.GetJSON(ctx, KeyIdentity, &got), "corrupted values read as absent")

	assert.False(t, store.GetJSON(ctx, KeySettings, &got))
	assert.False(t, store.SetJSON(ctx, KeySettings, make(chan int)))
}

func TestCredentialStoreSchemaVersion(t *testing.T) {
	ctx := context.Background()
	plain := NewMemoryBackend()
	store := NewCredentialStore(nil, plain, nil)

	assert.Equal(t, CurrentSchemaVersion, store.EnsureSchemaVersion(ctx))
	stamped, ok, err := plain.Get(ctx, KeySchemaVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", stamped)

	require.NoError(t, plain.Set(ctx, KeySchemaVersion, "7"))
	assert.Equal(t, 7, store.EnsureSchemaVersion(ctx))

	require.NoError(t, plain.Set(ctx, KeySchemaVersion, "garbage"))
	assert.Equal(t, CurrentSchemaVersion, store.EnsureSchemaVersion(ctx))
}
