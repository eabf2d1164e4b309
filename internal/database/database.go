package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// applicationName tags every credential connection in pg_stat_activity.
const applicationName = "marketplace-client"

// Config describes the pool behind the postgres credential backend. The
// namespace is the device the pool stores credentials for.
type Config struct {
	URL       string
	MaxConns  int32
	MinConns  int32
	Namespace string
}

// DB owns the pool behind the postgres credential backend.
type DB struct {
	Pool      *pgxpool.Pool
	namespace string
}

// Open connects, verifies the server answers and ensures the credential
// schema before any key is read.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create credential pool: %w", err)
	}

	db := &DB{Pool: pool, namespace: cfg.Namespace}
	if err := db.Health(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping credential database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("credential database ready",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"namespace", cfg.Namespace,
		"max_conns", poolCfg.MaxConns,
	)
	return db, nil
}

// poolConfig keeps the pool small: a client holds one session and touches
// a handful of keys per operation.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.URL == "" {
		return nil, errors.New("credential database URL is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse credential database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 && cfg.MinConns <= poolCfg.MaxConns {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnIdleTime = 2 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	name := applicationName
	if cfg.Namespace != "" {
		name += "/" + cfg.Namespace
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = name

	return poolCfg, nil
}

func (db *DB) Namespace() string {
	return db.namespace
}

func (db *DB) Close() {
	if db == nil || db.Pool == nil {
		return
	}
	db.Pool.Close()
	slog.Debug("credential database closed", "namespace", db.namespace)
}

func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
