package storage

import (
	"context"
	"fmt"
	"strconv"
)

// schema is the full DDL, applied idempotently at startup. The collector owns
// its schema; there is no external migration step.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS failed_logins (
		id              BIGSERIAL PRIMARY KEY,
		source_ip       TEXT        NOT NULL,
		username        TEXT        NOT NULL,
		source_host     TEXT,
		logon_type      INTEGER,
		failure_reason  VARCHAR(20),
		source_port     INTEGER,
		event_timestamp TEXT        NOT NULL,
		occurred_at     TIMESTAMP   NOT NULL,
		host_id         TEXT        NOT NULL,
		event_class     INTEGER     NOT NULL DEFAULT 4625,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS failed_logins_natural_key
		ON failed_logins (host_id, source_ip, username, event_timestamp, COALESCE(source_port, -1))`,
	`CREATE INDEX IF NOT EXISTS failed_logins_ip_occurred
		ON failed_logins (source_ip, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS failed_logins_host_occurred
		ON failed_logins (host_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS suspicious_ips (
		ip            TEXT        PRIMARY KEY,
		failure_count INTEGER     NOT NULL DEFAULT 0,
		first_seen    TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen     TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_username TEXT,
		status        VARCHAR(16) NOT NULL DEFAULT 'active'
	)`,

	`CREATE TABLE IF NOT EXISTS hosts (
		id                TEXT        PRIMARY KEY,
		name              TEXT,
		ip                TEXT,
		collection_method VARCHAR(16) NOT NULL DEFAULT 'agent',
		status            VARCHAR(16) NOT NULL DEFAULT 'active',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen         TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS blocks (
		id           BIGSERIAL   PRIMARY KEY,
		ip           TEXT        NOT NULL,
		scope        VARCHAR(10) NOT NULL,
		host_id      TEXT,
		reason       TEXT,
		blocked_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at   TIMESTAMPTZ,
		active       BOOLEAN     NOT NULL DEFAULT TRUE,
		unblocked_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS blocks_ip_active ON blocks (ip) WHERE active`,

	`CREATE TABLE IF NOT EXISTS host_policies (
		host_id        TEXT PRIMARY KEY,
		threshold      INTEGER,
		time_window    INTEGER,
		block_duration INTEGER,
		auto_block     BOOLEAN
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// settingsKeys maps the Settings fields to their rows in the settings table.
const (
	keyThreshold       = "THRESHOLD"
	keyTimeWindow      = "TIME_WINDOW"
	keyBlockDuration   = "BLOCK_DURATION"
	keyAutoBlock       = "ENABLE_AUTO_BLOCK"
	keyGlobalThreshold = "GLOBAL_THRESHOLD"
	keyGlobalAutoBlock = "ENABLE_GLOBAL_AUTO_BLOCK"
)

// Migrate applies the schema and seeds any missing settings rows with their
// defaults. Existing settings values are never overwritten.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	def := DefaultSettings()
	seed := map[string]string{
		keyThreshold:       strconv.Itoa(def.Threshold),
		keyTimeWindow:      strconv.Itoa(def.TimeWindow),
		keyBlockDuration:   strconv.Itoa(def.BlockDuration),
		keyAutoBlock:       strconv.FormatBool(def.AutoBlock),
		keyGlobalThreshold: strconv.Itoa(def.GlobalThreshold),
		keyGlobalAutoBlock: strconv.FormatBool(def.GlobalAutoBlock),
	}
	for k, v := range seed {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING`, k, v)
		if err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}
	return nil
}
