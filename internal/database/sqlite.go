package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// InitDB opens the SQLite database and bootstraps the schema.
func InitDB(dataSourceName string) (*sql.DB, error) {
	if dataSourceName != ":memory:" {
		dir := filepath.Dir(dataSourceName)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// WAL lets history reads proceed while a chat is being learned.
	// A memory database silently stays on its own journal mode.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables executes the SQL statements to create the database schema.
func createTables(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			message_text TEXT NOT NULL,
			reply_to_message_id INTEGER,
			timestamp INTEGER NOT NULL,
			has_question INTEGER NOT NULL DEFAULT 0,
			has_exclamation INTEGER NOT NULL DEFAULT 0,
			word_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(chat_id, timestamp, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp ON messages(chat_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_punctuation ON messages(chat_id, has_question, has_exclamation);

		CREATE TABLE IF NOT EXISTS personality_settings (
			chat_id INTEGER PRIMARY KEY,
			laziness INTEGER NOT NULL DEFAULT 50,
			coherence INTEGER NOT NULL DEFAULT 50,
			sassiness INTEGER NOT NULL DEFAULT 50,
			chain_order INTEGER NOT NULL DEFAULT 2,
			silence_minutes INTEGER NOT NULL DEFAULT 15,
			updated_at INTEGER NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}
