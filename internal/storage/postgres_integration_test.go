//go:build integration

package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/database"
)

func TestPostgresBackendIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{URL: dsn, MaxConns: 4, Namespace: "device-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Health(ctx))

	backend, err := NewPostgresBackend(db.Pool, db.Namespace())
	require.NoError(t, err)

	store := NewCredentialStore(nil, backend, nil)
	require.True(t, store.Set(ctx, KeyToken, "tok"))

	value, ok := store.Get(ctx, KeyToken)
	require.True(t, ok)
	require.Equal(t, "tok", value)

	other, err := NewPostgresBackend(db.Pool, "device-"+uuid.NewString())
	require.NoError(t, err)
	_, ok, err = other.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.False(t, ok, "namespaces are isolated")

	require.True(t, store.Remove(ctx, KeyToken))
	_, ok = store.Get(ctx, KeyToken)
	require.False(t, ok)
}
