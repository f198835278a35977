// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dynamic-site-maker/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the content database connection.
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens the pool. The connection is verified lazily by Ping.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Schema creates the page, page meta and media tables if they are missing.
// Meta values hold whole render trees, so lookups by value go through an
// md5 expression index; btree entries are capped near 2.7KB.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT NOT NULL,
	slug        TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL,
	author_id   BIGINT NOT NULL DEFAULT 0,
	content     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS page_meta (
	page_id     BIGINT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	meta_key    TEXT NOT NULL,
	meta_value  TEXT NOT NULL,
	PRIMARY KEY (page_id, meta_key)
);
DROP INDEX IF EXISTS page_meta_key_value;
CREATE INDEX IF NOT EXISTS page_meta_key_value_md5 ON page_meta (meta_key, md5(meta_value));
CREATE TABLE IF NOT EXISTS media (
	id          BIGSERIAL PRIMARY KEY,
	path        TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	url         TEXT NOT NULL,
	width       INT NOT NULL DEFAULT 0,
	height      INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Migrate applies Schema.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
