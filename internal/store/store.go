// Package store manages all SQLite persistence for dispatchd: schedules,
// agent calendars (free windows and blocks), and the service catalog.
//
// SQLite in WAL mode carries every table. Write operations that touch a
// given (agent, date) schedule bucket additionally serialize through an
// in-process bucket mutex (see buckets.go) so the availability check and
// the committing insert form one critical section.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsvc/dispatchd/internal/clock"

	_ "modernc.org/sqlite"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db      *sql.DB
	clock   clock.Clock
	buckets *BucketLocks
	proto   *protocolGen
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string, clk clock.Clock) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:      db,
		clock:   clk,
		buckets: NewBucketLocks(),
		proto:   newProtocolGen(clk),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Buckets exposes the per-(agent, date) lock manager so the orchestrator
// can hold a bucket across its check-then-commit section.
func (s *Store) Buckets() *BucketLocks { return s.buckets }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations use this to handle transient SQLite errors
// (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS free_windows (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id    INTEGER NOT NULL REFERENCES agents(id),
		day_of_week INTEGER NOT NULL,
		start_min   INTEGER NOT NULL,
		end_min     INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		deleted     INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_free_windows_agent_dow
		ON free_windows(agent_id, day_of_week) WHERE deleted = 0;

	CREATE TABLE IF NOT EXISTS blocks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id   INTEGER NOT NULL REFERENCES agents(id),
		start_date TEXT NOT NULL,
		end_date   TEXT NOT NULL,
		start_min  INTEGER NOT NULL,
		end_min    INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		deleted    INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_identity
		ON blocks(agent_id, start_date, end_date, start_min, end_min) WHERE deleted = 0;
	CREATE INDEX IF NOT EXISTS idx_blocks_agent_dates ON blocks(agent_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS services (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		name            TEXT NOT NULL UNIQUE,
		category        TEXT NOT NULL,
		default_form_id TEXT NOT NULL DEFAULT '',
		sla_hours       INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		deleted         INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS service_opinions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id   INTEGER NOT NULL REFERENCES services(id),
		name         TEXT NOT NULL,
		approved     INTEGER NOT NULL DEFAULT 0,
		exchangeable INTEGER NOT NULL DEFAULT 0,
		final        INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		deleted      INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_service_opinions_identity
		ON service_opinions(service_id, name) WHERE deleted = 0;

	CREATE TABLE IF NOT EXISTS schedules (
		id                 TEXT PRIMARY KEY,
		protocol           TEXT NOT NULL UNIQUE,
		agent_id           INTEGER,
		service_id         INTEGER NOT NULL REFERENCES services(id),
		customer_id        INTEGER,
		project_id         INTEGER,
		date               TEXT NOT NULL,
		start_min          INTEGER NOT NULL,
		end_min            INTEGER NOT NULL,
		address_text       TEXT NOT NULL DEFAULT '',
		address_lat        REAL,
		address_lon        REAL,
		status             TEXT NOT NULL,
		agent_status       TEXT NOT NULL,
		step               INTEGER NOT NULL,
		observation        TEXT NOT NULL DEFAULT '',
		opinion_id         INTEGER,
		final_opinion_id   INTEGER,
		final_opinion_user TEXT NOT NULL DEFAULT '',
		going_at           TEXT,
		arrived_at         TEXT,
		started_at         TEXT,
		finished_at        TEXT,
		created_at         TEXT NOT NULL,
		deleted            INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_agent_date ON schedules(agent_id, date);
	CREATE INDEX IF NOT EXISTS idx_schedules_project ON schedules(project_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_service ON schedules(service_id);

	CREATE TABLE IF NOT EXISTS schedule_parents (
		schedule_id TEXT NOT NULL REFERENCES schedules(id),
		parent_id   TEXT NOT NULL REFERENCES schedules(id),
		PRIMARY KEY (schedule_id, parent_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// now returns the current time formatted for storage.
func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}
