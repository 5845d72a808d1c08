package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupStateHistoryTestDB creates an in-memory SQLite database with the state_history table.
func setupStateHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// each pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_state_history_serial ON state_history(serial, id DESC);
		CREATE INDEX idx_state_history_time ON state_history(created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertStateHistoryRow inserts a state history row with a specific timestamp.
func insertStateHistoryRow(t *testing.T, db *sql.DB, serial, stateJSON string, source Source, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(insertHistorySQL, serial, stateJSON, string(source), createdAt.UTC().Format(historyTimeFormat))
	if err != nil {
		t.Fatalf("failed to insert state history row: %v", err)
	}
}

// TestRecord verifies state history writes and retrieval.
func TestRecord(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteHistory(db)
	ctx := context.Background()

	snap := Snapshot{Serial: "LM1", TurnedOn: true}
	snap.Coffee.Target = 93.5
	if err := repo.Record(ctx, "LM1", snap, SourceStream); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.Recent(ctx, "LM1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.Serial != "LM1" {
		t.Errorf("Serial = %q, want %q", entry.Serial, "LM1")
	}
	if entry.Source != SourceStream {
		t.Errorf("Source = %q, want %q", entry.Source, SourceStream)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want non-zero")
	}

	var got Snapshot
	if err := json.Unmarshal(entry.State, &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !got.TurnedOn || got.Coffee.Target != 93.5 {
		t.Errorf("state = %+v", got)
	}
}

func TestRecordRequiresSerial(t *testing.T) {
	repo := NewSQLiteHistory(setupStateHistoryTestDB(t))
	if err := repo.Record(context.Background(), "", Snapshot{}, SourceStream); err == nil {
		t.Error("Record() with empty serial succeeded")
	}
}

// TestRecent verifies ordering and limit enforcement.
func TestRecent(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteHistory(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertStateHistoryRow(t, db, "LM1", `{"turned_on":false}`, SourceCommand, now.Add(-2*time.Hour))
	insertStateHistoryRow(t, db, "LM1", `{"turned_on":true}`, SourceStream, now.Add(-1*time.Hour))
	insertStateHistoryRow(t, db, "LM1", `{"turned_on":true}`, SourceLocalStream, now)
	insertStateHistoryRow(t, db, "LM2", `{"turned_on":true}`, SourceStream, now)

	entries, err := repo.Recent(ctx, "LM1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}

	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("entry[0] CreatedAt = %s, want %s", entries[0].CreatedAt, now)
	}
	if entries[0].Source != SourceLocalStream {
		t.Errorf("entry[0] Source = %q, want %q", entries[0].Source, SourceLocalStream)
	}
	if !entries[1].CreatedAt.Equal(now.Add(-1 * time.Hour)) {
		t.Errorf("entry[1] CreatedAt = %s, want %s", entries[1].CreatedAt, now.Add(-1*time.Hour))
	}
}

// TestPrune verifies old entries are removed.
func TestPrune(t *testing.T) {
	db := setupStateHistoryTestDB(t)
	repo := NewSQLiteHistory(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertStateHistoryRow(t, db, "LM1", `{"turned_on":true}`, SourceStream, now.Add(-40*24*time.Hour))
	insertStateHistoryRow(t, db, "LM1", `{"turned_on":false}`, SourceStream, now.Add(-12*time.Hour))

	deleted, err := repo.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := repo.Recent(ctx, "LM1", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(now.Add(-12 * time.Hour)) {
		t.Errorf("remaining CreatedAt = %s, want %s", entries[0].CreatedAt, now.Add(-12*time.Hour))
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) succeeded, want error")
	}
}

func TestMachineRecordsHistory(t *testing.T) {
	repo := NewSQLiteHistory(setupStateHistoryTestDB(t))
	m := newTestMachine(t, MachineConfig{Cloud: newFakeCloud(), History: repo})

	if _, err := m.SetPower(context.Background(), true); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	entries, err := repo.Recent(context.Background(), m.Serial(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Source != SourceCommand {
		t.Errorf("entries = %+v, want one command entry", entries)
	}
}
