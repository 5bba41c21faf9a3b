// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store handles persistence for campusgate: users, sessions, bans,
// the append-only detection log, anomaly records, the policy singleton, and
// passively-learned device names. Everything lives in a single SQLite
// database opened in WAL mode so the capture pipeline can append while the
// gateway reads.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"grimm.is/campusgate/internal/errors"
)

// Store wraps the campusgate SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs schema setup.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "create state dir")
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "open database")
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn between the batch writer and the gateway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		pw_hash    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT 'student',
		tier       TEXT NOT NULL DEFAULT 'standard',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id    TEXT PRIMARY KEY,
		client_ip  TEXT NOT NULL,
		state      TEXT NOT NULL, -- active | inactive
		login_time INTEGER NOT NULL,
		last_seen  INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_ip
		ON sessions(client_ip) WHERE state = 'active';

	CREATE TABLE IF NOT EXISTS bans (
		user_id    TEXT PRIMARY KEY,
		kind       TEXT NOT NULL, -- temporary | permanent
		confidence REAL NOT NULL,
		reason     TEXT NOT NULL,
		blocked_at INTEGER NOT NULL,
		expires_at INTEGER,        -- NULL iff permanent
		status     TEXT NOT NULL   -- blocked | expired | lifted
	);

	CREATE TABLE IF NOT EXISTS detections (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts        INTEGER NOT NULL,
		user_id   TEXT NOT NULL,
		client_ip TEXT NOT NULL,
		hostname  TEXT NOT NULL,
		app       TEXT NOT NULL,
		category  TEXT NOT NULL,
		score     REAL NOT NULL,
		reason    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_user_ts ON detections(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts);

	CREATE TABLE IF NOT EXISTS anomalies (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		ts         INTEGER NOT NULL,
		confidence REAL NOT NULL,
		severity   TEXT NOT NULL,
		reason     TEXT NOT NULL,
		features   TEXT NOT NULL, -- JSON feature snapshot
		model_tag  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_anomalies_user_ts ON anomalies(user_id, ts);

	CREATE TABLE IF NOT EXISTS policy (
		id   INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_names (
		client_ip  TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.KindStoreUnavailable, "init schema")
	}
	return nil
}
