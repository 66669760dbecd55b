// Package store owns the SQLite database handle, schema migration and
// transaction plumbing shared by the domain packages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQL database used by all domain packages.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at url and runs migrations.
func Open(url string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", url)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// PRAGMAs are per-connection; a single pooled connection keeps them
	// in force and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Querier is the subset of database operations shared by *sql.DB and
// *sql.Tx, letting domain queries run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			role       TEXT NOT NULL DEFAULT 'regular',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activity_types (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL UNIQUE,
			category            TEXT NOT NULL DEFAULT '',
			is_solo_performable INTEGER NOT NULL DEFAULT 0,
			elo_settings        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id                TEXT PRIMARY KEY,
			activity_type_id  TEXT NOT NULL REFERENCES activity_types(id),
			creator_id        TEXT NOT NULL REFERENCES users(id),
			description       TEXT NOT NULL DEFAULT '',
			date_time         TIMESTAMP NOT NULL,
			max_participants  INTEGER NOT NULL DEFAULT 0,
			elo_level         INTEGER NOT NULL DEFAULT 0,
			is_elo_rated      INTEGER NOT NULL DEFAULT 0,
			completion_status TEXT NOT NULL DEFAULT 'scheduled',
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_participants (
			activity_id       TEXT NOT NULL REFERENCES activities(id),
			user_id           TEXT NOT NULL REFERENCES users(id),
			status            TEXT NOT NULL DEFAULT 'pending',
			team              TEXT NOT NULL DEFAULT '',
			final_result      TEXT NOT NULL DEFAULT '',
			performance_notes TEXT NOT NULL DEFAULT '',
			joined_at         TIMESTAMP NOT NULL,
			PRIMARY KEY (activity_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_activity_type_elo (
			user_id          TEXT NOT NULL REFERENCES users(id),
			activity_type_id TEXT NOT NULL REFERENCES activity_types(id),
			elo_score        INTEGER NOT NULL,
			games_played     INTEGER NOT NULL DEFAULT 0,
			peak_elo         INTEGER NOT NULL,
			volatility       INTEGER NOT NULL DEFAULT 300,
			last_updated     TIMESTAMP NOT NULL,
			version          INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, activity_type_id)
		)`,
		`CREATE TABLE IF NOT EXISTS activity_elo_status (
			activity_id   TEXT PRIMARY KEY REFERENCES activities(id),
			status        TEXT NOT NULL,
			locked_by     TEXT NOT NULL DEFAULT '',
			locked_at     TIMESTAMP,
			completed_at  TIMESTAMP,
			error_message TEXT NOT NULL DEFAULT '',
			retry_count   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS skill_definitions (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			skill_type TEXT NOT NULL,
			is_general INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS activity_type_skills (
			activity_type_id    TEXT NOT NULL REFERENCES activity_types(id),
			skill_definition_id TEXT NOT NULL REFERENCES skill_definitions(id),
			weight              REAL NOT NULL DEFAULT 1.0,
			display_order       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (activity_type_id, skill_definition_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_activity_skill_ratings (
			id                  TEXT PRIMARY KEY,
			activity_id         TEXT NOT NULL REFERENCES activities(id),
			rated_user_id       TEXT NOT NULL REFERENCES users(id),
			rating_user_id      TEXT NOT NULL REFERENCES users(id),
			skill_definition_id TEXT NOT NULL REFERENCES skill_definitions(id),
			rating_value        INTEGER NOT NULL,
			confidence          INTEGER NOT NULL,
			comment             TEXT NOT NULL DEFAULT '',
			is_anonymous        INTEGER NOT NULL DEFAULT 0,
			created_at          TIMESTAMP NOT NULL,
			UNIQUE (activity_id, rated_user_id, rating_user_id, skill_definition_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_activity_type_skill_summaries (
			user_id             TEXT NOT NULL REFERENCES users(id),
			activity_type_id    TEXT NOT NULL REFERENCES activity_types(id),
			skill_definition_id TEXT NOT NULL REFERENCES skill_definitions(id),
			average_rating      INTEGER NOT NULL,
			total_ratings       INTEGER NOT NULL,
			trend               TEXT NOT NULL DEFAULT 'stable',
			last_calculated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, activity_type_id, skill_definition_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_general_skill_summaries (
			user_id             TEXT NOT NULL REFERENCES users(id),
			skill_definition_id TEXT NOT NULL REFERENCES skill_definitions(id),
			average_rating      INTEGER NOT NULL,
			total_ratings       INTEGER NOT NULL,
			last_calculated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, skill_definition_id)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_change_log (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type       TEXT NOT NULL,
			entity_id         TEXT NOT NULL,
			change_type       TEXT NOT NULL,
			affected_user_id  TEXT NOT NULL,
			related_entity_id TEXT NOT NULL DEFAULT '',
			previous_data     TEXT,
			new_data          TEXT,
			change_details    TEXT NOT NULL DEFAULT '',
			triggered_by      TEXT NOT NULL DEFAULT '',
			change_source     TEXT NOT NULL DEFAULT 'system',
			created_at        TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_user_time
			ON entity_change_log(affected_user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS user_delta_cursors (
			user_id                 TEXT PRIMARY KEY REFERENCES users(id),
			last_elo_sync           TIMESTAMP NOT NULL,
			last_activity_sync      TIMESTAMP NOT NULL,
			last_skill_rating_sync  TIMESTAMP NOT NULL,
			last_connection_sync    TIMESTAMP NOT NULL,
			last_matchmaking_sync   TIMESTAMP NOT NULL,
			client_type             TEXT NOT NULL DEFAULT 'web',
			last_active_at          TIMESTAMP NOT NULL,
			preferred_poll_interval INTEGER NOT NULL DEFAULT 5000,
			updated_at              TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Now returns the current UTC time truncated to microseconds, the
// resolution SQLite round-trips losslessly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
