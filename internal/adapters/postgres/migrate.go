package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		idempotency_key TEXT NOT NULL,
		session_token   TEXT NOT NULL,
		method          TEXT NOT NULL,
		route           TEXT NOT NULL,
		body_hash       TEXT NOT NULL,
		status_code     INTEGER NOT NULL,
		content_type    TEXT NOT NULL,
		body            BYTEA NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (idempotency_key, session_token, method, route, body_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_events (
		id            BIGSERIAL PRIMARY KEY,
		session_token TEXT NOT NULL,
		kind          TEXT NOT NULL,
		gateway_url   TEXT NOT NULL DEFAULT '',
		merchant_id   TEXT NOT NULL DEFAULT '',
		integration   TEXT NOT NULL DEFAULT '',
		occurred_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS telemetry_events_session_idx
		ON telemetry_events (session_token, occurred_at, id)`,
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil postgres pool")
	}
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
