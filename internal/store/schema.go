package store

import (
	"context"
	"fmt"
)

// Four logical stores on deliberately separate tables: qualifier state +
// scan log (scan path), venue listings, identity mappings, and refresh
// bookkeeping. Each refresh path rebuilds only its own table under its own
// advisory lock.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS active_qualifiers (
		symbol           TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		slug             TEXT NOT NULL DEFAULT '',
		external_id      TEXT NOT NULL DEFAULT '',
		entered_at       TIMESTAMPTZ NOT NULL,
		last_seen_at     TIMESTAMPTZ NOT NULL,
		last_scan_at     TIMESTAMPTZ NOT NULL,
		gain_7d          DOUBLE PRECISION NOT NULL DEFAULT 0,
		gain_30d         DOUBLE PRECISION NOT NULL DEFAULT 0,
		uniformity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_24h       DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS scan_history (
		id               BIGSERIAL PRIMARY KEY,
		run_id           TEXT NOT NULL,
		scanned_at       TIMESTAMPTZ NOT NULL,
		symbol           TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		gain_7d          DOUBLE PRECISION NOT NULL DEFAULT 0,
		gain_30d         DOUBLE PRECISION NOT NULL DEFAULT 0,
		uniformity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_24h       DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_history_symbol ON scan_history (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_history_run ON scan_history (run_id)`,
	`CREATE TABLE IF NOT EXISTS exchange_listings (
		venue      TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen  TIMESTAMPTZ NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (venue, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exchange_listings_symbol ON exchange_listings (symbol)`,
	`CREATE TABLE IF NOT EXISTS identity_mappings (
		symbol      TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		rank        INTEGER NOT NULL DEFAULT 0,
		source      TEXT NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_meta (
		store        TEXT PRIMARY KEY,
		refreshed_at TIMESTAMPTZ NOT NULL,
		row_count    INTEGER NOT NULL DEFAULT 0
	)`,
}

func (d *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
