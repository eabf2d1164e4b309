package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps a device's key/value namespace in a shared
// Postgres table. It serves the web build, where the browser has no
// durable storage of its own and a companion service holds it per device.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	namespace string
}

func NewPostgresBackend(pool *pgxpool.Pool, namespace string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is not initialized", ErrUnavailable)
	}
	if namespace == "" {
		return nil, fmt.Errorf("postgres backend requires a namespace")
	}

	return &PostgresBackend{pool: pool, namespace: namespace}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM credential_kv WHERE namespace = $1 AND key = $2`,
		p.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	return value, true, nil
}

func (p *PostgresBackend) Set(ctx context.Context, key string, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO credential_kv (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		p.namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	return nil
}

func (p *PostgresBackend) Remove(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM credential_kv WHERE namespace = $1 AND key = $2`, p.namespace, key)
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
