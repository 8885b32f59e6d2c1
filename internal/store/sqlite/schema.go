package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT    NOT NULL,
		title      TEXT    NOT NULL DEFAULT '',
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TEXT    NOT NULL,
		updated_at TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at)`,

	`CREATE TABLE IF NOT EXISTS messages (
		session_id  TEXT    NOT NULL,
		seq         INTEGER NOT NULL,
		id          TEXT    NOT NULL UNIQUE,
		role        TEXT    NOT NULL,
		content     TEXT    NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		importance  REAL,
		summarized  INTEGER NOT NULL DEFAULT 0,
		summary_ref TEXT    NOT NULL DEFAULT '',
		topics      TEXT    NOT NULL DEFAULT '[]',
		embedding   BLOB,
		created_at  TEXT    NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_summary ON messages(summary_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(session_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS summaries (
		id              TEXT PRIMARY KEY,
		user_id         TEXT    NOT NULL,
		session_id      TEXT    NOT NULL,
		kind            TEXT    NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		key_points      TEXT    NOT NULL DEFAULT '[]',
		topics          TEXT    NOT NULL DEFAULT '[]',
		importance      REAL    NOT NULL DEFAULT 0,
		original_tokens INTEGER NOT NULL DEFAULT 0,
		token_count     INTEGER NOT NULL DEFAULT 0,
		restored        INTEGER NOT NULL DEFAULT 0,
		embedding       BLOB,
		created_at      TEXT    NOT NULL,
		updated_at      TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_summaries_user ON summaries(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS access_records (
		id          TEXT PRIMARY KEY,
		user_id     TEXT    NOT NULL,
		session_id  TEXT    NOT NULL DEFAULT '',
		message_id  TEXT    NOT NULL DEFAULT '',
		summary_id  TEXT    NOT NULL DEFAULT '',
		access_type TEXT    NOT NULL,
		relevance   REAL    NOT NULL DEFAULT 0,
		explicit    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_access_user ON access_records(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_access_message ON access_records(message_id, explicit, created_at)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content,
		content=messages,
		content_rowid=rowid
	)`,

	`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,

	`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	END`,

	`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE OF content ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
	END`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS summaries_fts USING fts5(
		content,
		topics,
		content=summaries,
		content_rowid=rowid
	)`,

	`CREATE TRIGGER IF NOT EXISTS summaries_ai AFTER INSERT ON summaries BEGIN
		INSERT INTO summaries_fts(rowid, content, topics) VALUES (new.rowid, new.content, new.topics);
	END`,

	`CREATE TRIGGER IF NOT EXISTS summaries_ad AFTER DELETE ON summaries BEGIN
		INSERT INTO summaries_fts(summaries_fts, rowid, content, topics) VALUES ('delete', old.rowid, old.content, old.topics);
	END`,

	`CREATE TRIGGER IF NOT EXISTS summaries_au AFTER UPDATE OF content, topics ON summaries BEGIN
		INSERT INTO summaries_fts(summaries_fts, rowid, content, topics) VALUES ('delete', old.rowid, old.content, old.topics);
		INSERT INTO summaries_fts(rowid, content, topics) VALUES (new.rowid, new.content, new.topics);
	END`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
