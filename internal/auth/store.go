package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists installation key material and the current token pair.
type Store interface {
	SaveInstallation(ctx context.Context, username string, key *InstallationKey, registered bool) error
	LoadInstallation(ctx context.Context, username string) (*InstallationKey, bool, error)
	SaveToken(ctx context.Context, username string, token *Token) error
	LoadToken(ctx context.Context, username string) (*Token, error)
}

// SQLiteStore implements Store on the credentials table. Key material and
// refresh tokens are sealed before they reach disk.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
}

// NewSQLiteStore creates a store backed by db.
func NewSQLiteStore(db *sql.DB, sealer *Sealer) *SQLiteStore {
	return &SQLiteStore{db: db, sealer: sealer}
}

var _ Store = (*SQLiteStore)(nil)

// SaveInstallation upserts the key material for username.
func (s *SQLiteStore) SaveInstallation(ctx context.Context, username string, key *InstallationKey, registered bool) error {
	raw, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encoding installation key: %w", err)
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return fmt.Errorf("sealing installation key: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (username, installation_id, installation_key, registered, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   installation_id = excluded.installation_id,
		   installation_key = excluded.installation_key,
		   registered = excluded.registered,
		   updated_at = excluded.updated_at`,
		username, key.InstallationID, sealed, boolToInt(registered), now,
	)
	if err != nil {
		return fmt.Errorf("saving installation key: %w", err)
	}
	return nil
}

// LoadInstallation returns the key material and whether it was registered.
func (s *SQLiteStore) LoadInstallation(ctx context.Context, username string) (*InstallationKey, bool, error) {
	var sealed string
	var registered int
	err := s.db.QueryRowContext(ctx,
		`SELECT installation_key, registered FROM credentials WHERE username = ?`, username,
	).Scan(&sealed, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotStored
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading installation key: %w", err)
	}
	raw, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, false, err
	}
	var key InstallationKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, false, err
	}
	return &key, registered != 0, nil
}

// SaveToken stores the token pair. The row must already exist.
func (s *SQLiteStore) SaveToken(ctx context.Context, username string, token *Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET token = ?, token_expires_at = ?, updated_at = ? WHERE username = ?`,
		sealed, token.ExpiresAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), username,
	)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return ErrNotStored
	}
	return nil
}

// LoadToken returns the stored token pair.
func (s *SQLiteStore) LoadToken(ctx context.Context, username string) (*Token, error) {
	var sealed sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM credentials WHERE username = ?`, username,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !sealed.Valid) {
		return nil, ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	raw, err := s.sealer.Open(sealed.String)
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
