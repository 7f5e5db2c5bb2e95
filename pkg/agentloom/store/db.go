// Package store – db.go opens the agentloom database and creates its
// schema. SQLite (WAL) is the default for development and tests; Postgres
// via the pgx stdlib driver is used in production. Both are reached through
// database/sql so the query layer is shared.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver.
	_ "github.com/mattn/go-sqlite3"    // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Deployed agents. Status lifecycle: deploying -> active | paused | archived.
-- A failed build leaves the row in 'deploying' so it stays inspectable.
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    principal    TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'deploying',
    name         TEXT NOT NULL,
    persona      TEXT DEFAULT '',
    instructions TEXT DEFAULT '',
    model        TEXT DEFAULT '',
    max_steps    INTEGER DEFAULT 8,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_principal ON agents(principal);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

-- Behaviours (one trigger+instruction rule per row).
CREATE TABLE IF NOT EXISTS behaviours (
    id             TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    name           TEXT NOT NULL,
    trigger_kind   TEXT NOT NULL,
    trigger_config TEXT DEFAULT '{}',
    instruction    TEXT NOT NULL,
    enabled        INTEGER DEFAULT 1,
    next_run_at    TEXT DEFAULT '',
    created_at     TEXT NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
CREATE INDEX IF NOT EXISTS idx_behaviours_agent ON behaviours(agent_id);
CREATE INDEX IF NOT EXISTS idx_behaviours_next_run ON behaviours(next_run_at);

-- Seed and learned agent memories.
CREATE TABLE IF NOT EXISTS agent_memories (
    id         TEXT PRIMARY KEY,
    agent_id   TEXT NOT NULL,
    content    TEXT NOT NULL,
    kind       TEXT DEFAULT 'seed',
    weight     REAL DEFAULT 1.0,
    source     TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON agent_memories(agent_id);

-- Poll trigger descriptors consumed by the external polling worker.
-- One row per periodic-poll behaviour; re-dispatch upserts rather than
-- inserting a duplicate.
CREATE TABLE IF NOT EXISTS poll_triggers (
    id           TEXT PRIMARY KEY,
    behaviour_id TEXT NOT NULL UNIQUE,
    agent_id     TEXT NOT NULL,
    capability   TEXT NOT NULL,
    enabled      INTEGER DEFAULT 1,
    last_poll_at TEXT DEFAULT '',
    created_at   TEXT NOT NULL,
    FOREIGN KEY (behaviour_id) REFERENCES behaviours(id)
);
CREATE INDEX IF NOT EXISTS idx_poll_triggers_agent ON poll_triggers(agent_id);
CREATE INDEX IF NOT EXISTS idx_poll_triggers_enabled ON poll_triggers(enabled);

-- Third-party capability connections per principal.
CREATE TABLE IF NOT EXISTS connections (
    principal    TEXT NOT NULL,
    capability   TEXT NOT NULL,
    connected_at TEXT NOT NULL,
    PRIMARY KEY (principal, capability)
);

-- Inbound webhook deliveries recorded for inbound-event behaviours.
CREATE TABLE IF NOT EXISTS webhook_events (
    id           TEXT PRIMARY KEY,
    agent_id     TEXT NOT NULL,
    behaviour_id TEXT NOT NULL,
    payload      TEXT DEFAULT '{}',
    received_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_agent ON webhook_events(agent_id);
`

// Open opens the database for the given driver ("sqlite3" or "pgx") and
// DSN, verifies connectivity, and creates the schema.
func Open(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if driver == "sqlite3" {
		if dsn == "" {
			dsn = "./data/agentloom.db"
		}
		// Ensure parent directory exists for file-backed databases.
		if dsn != ":memory:" {
			dir := filepath.Dir(dsn)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %q: %w", dir, err)
			}
		}
		dsn = dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory SQLite database exists per connection; keep the pool
	// at one so every query sees the same schema.
	if driver == "sqlite3" && strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
