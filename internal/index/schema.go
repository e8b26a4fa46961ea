// Package index is the SQLite search projection of the posts. It can always
// be rebuilt from the content store.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Search columns hold lower-cased copies; list fields are joined with "\n"
// so a whitespace-free term never matches across two items.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS posts (
	slug          TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	date          TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	categories    TEXT NOT NULL DEFAULT '[]',
	excerpt       TEXT NOT NULL DEFAULT '',
	body_text     TEXT NOT NULL DEFAULT '',
	checksum      TEXT NOT NULL DEFAULT '',
	title_lc      TEXT NOT NULL DEFAULT '',
	tags_lc       TEXT NOT NULL DEFAULT '',
	categories_lc TEXT NOT NULL DEFAULT '',
	excerpt_lc    TEXT NOT NULL DEFAULT '',
	text_lc       TEXT NOT NULL DEFAULT '',
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(date);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
