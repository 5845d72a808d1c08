package auth

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the credentials schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL := `
		CREATE TABLE credentials (
			username TEXT PRIMARY KEY,
			installation_id TEXT NOT NULL,
			installation_key TEXT NOT NULL,
			registered INTEGER NOT NULL DEFAULT 0,
			token TEXT,
			token_expires_at TEXT,
			updated_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying credentials migration: %v", err)
	}
	return db
}

// fastSealer keeps Argon2id cheap in tests.
func fastSealer(passphrase string) *Sealer {
	s := NewSealer(passphrase)
	s.time = 1
	s.memory = 1024
	return s
}
