package store

import (
	"context"
	"fmt"
)

// schema creates the tables PostgresStore expects. Every statement is
// idempotent so Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		name TEXT PRIMARY KEY,
		x    BIGINT NOT NULL CHECK (x BETWEEN -30000000 AND 30000000),
		y    BIGINT NOT NULL CHECK (y BETWEEN -2048 AND 2048),
		z    BIGINT NOT NULL CHECK (z BETWEEN -30000000 AND 30000000)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id            TEXT PRIMARY KEY,
		rider_id      TEXT NOT NULL,
		start_station TEXT NOT NULL,
		destination   TEXT NOT NULL,
		base_price    BIGINT NOT NULL CHECK (base_price >= 0),
		price_paid    BIGINT NOT NULL CHECK (price_paid >= 0),
		issued_at     TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('UNUSED', 'IN_USE', 'COMPLETED'))
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_rider_idx ON tickets (rider_id, issued_at)`,
	`CREATE TABLE IF NOT EXISTS fares (
		from_station TEXT NOT NULL,
		to_station   TEXT NOT NULL CHECK (to_station <> from_station),
		price        BIGINT NOT NULL CHECK (price > 0),
		PRIMARY KEY (from_station, to_station)
	)`,
	`CREATE TABLE IF NOT EXISTS discount (
		id        SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		name      TEXT NOT NULL,
		factor    TEXT NOT NULL,
		enabled   BOOLEAN NOT NULL,
		starts_at TIMESTAMPTZ,
		ends_at   TIMESTAMPTZ
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
