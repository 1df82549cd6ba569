package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/segyhp/settlement-engine/internal/config"
)

// OpenDB connects to the configured database. The sqlite driver is meant for
// single-node deployments and tests.
func OpenDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Database.Driver, err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.GetConnMaxLifetime())
	if cfg.Database.Driver == "sqlite" {
		// sqlite serialises writers; one connection keeps CAS updates from failing with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// OpenRedis creates the checkpoint store client.
func OpenRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS obligations (
		linear_id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		obligor TEXT NOT NULL,
		obligee TEXT NOT NULL,
		settlement_status TEXT NOT NULL,
		awaiting_verification INTEGER NOT NULL DEFAULT 0,
		consumed INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS obligation_versions (
		linear_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		document TEXT NOT NULL,
		signers TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (linear_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS confidential_identities (
		anonymous_key TEXT PRIMARY KEY,
		well_known_key TEXT NOT NULL,
		well_known_name TEXT NOT NULL
	)`,
}

// Migrate creates the tables used by the SQL repositories.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
