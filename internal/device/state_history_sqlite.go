package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// Fixed width so created_at compares correctly as text.
	historyTimeFormat = "2006-01-02T15:04:05.000000Z07:00"
)

const (
	insertHistorySQL = `INSERT INTO state_history (serial, state, source, created_at) VALUES (?, ?, ?, ?)`
	recentHistorySQL = `SELECT id, serial, state, source, created_at FROM state_history
		WHERE serial = ? ORDER BY id DESC LIMIT ?`
	pruneHistorySQL = `DELETE FROM state_history WHERE created_at < ?`
)

var errSerialRequired = errors.New("device: serial number is required")

// SQLiteHistory keeps snapshots as JSON rows in the state_history table.
type SQLiteHistory struct {
	db *sql.DB
}

func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Record stores state as JSON. An empty source is stored as a command.
func (r *SQLiteHistory) Record(ctx context.Context, serial string, state any, source Source) error {
	if serial == "" {
		return errSerialRequired
	}
	if source == "" {
		source = SourceCommand
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding %s snapshot: %w", serial, err)
	}
	now := time.Now().UTC().Format(historyTimeFormat)
	if _, err := r.db.ExecContext(ctx, insertHistorySQL, serial, string(raw), string(source), now); err != nil {
		return fmt.Errorf("recording %s history: %w", serial, err)
	}
	return nil
}

// Recent returns up to limit entries for serial, newest first. limit is
// clamped to 1..200 with 50 for a non-positive value.
func (r *SQLiteHistory) Recent(ctx context.Context, serial string, limit int) ([]HistoryEntry, error) {
	if serial == "" {
		return nil, errSerialRequired
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, recentHistorySQL, serial, limit)
	if err != nil {
		return nil, fmt.Errorf("querying %s history: %w", serial, err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanHistory(rows *sql.Rows) (HistoryEntry, error) {
	var (
		e                        HistoryEntry
		state, source, createdAt string
	)
	if err := rows.Scan(&e.ID, &e.Serial, &state, &source, &createdAt); err != nil {
		return e, fmt.Errorf("scanning history row: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return e, fmt.Errorf("history row %d: bad created_at %q: %w", e.ID, createdAt, err)
	}
	e.State = json.RawMessage(state)
	e.Source = Source(source)
	e.CreatedAt = at
	return e, nil
}

// Prune removes entries older than olderThan and returns how many went.
func (r *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune age must be positive, got %v", olderThan)
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeFormat)
	res, err := r.db.ExecContext(ctx, pruneHistorySQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}
