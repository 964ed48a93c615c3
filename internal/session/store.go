// Package session owns the durable session identity: an opaque server-issued
// id and its expiry, persisted in local SQLite storage so the client can
// rebind to the same conversation after a restart.
package session

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fixed storage keys for the two persisted values.
const (
	keySessionID     = "session_id"
	keySessionExpiry = "session_expires_at"
)

// Record pairs a session id with its expiry.
type Record struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists the session record in a SQLite key-value table. Storage
// trouble degrades to "no session" on reads; it never fails the caller.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the client state database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createStateTable := `
	CREATE TABLE IF NOT EXISTS client_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := db.Exec(createStateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create client_state table: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// GetSessionID returns the stored session id if one is present and not yet
// expired. An expired or unreadable record is cleared and reported as
// absent; no network I/O happens here.
func (s *Store) GetSessionID() (string, bool) {
	id, err := s.readValue(keySessionID)
	if err != nil {
		s.logger.Warn("failed to read session id, treating as absent", "error", err)
		return "", false
	}
	if id == "" {
		return "", false
	}

	expiryRaw, err := s.readValue(keySessionExpiry)
	if err != nil || expiryRaw == "" {
		s.logger.Warn("session id present without readable expiry, clearing", "error", err)
		s.ClearSession()
		return "", false
	}

	expiresAt, err := time.Parse(time.RFC3339, expiryRaw)
	if err != nil {
		s.logger.Warn("stored session expiry is not valid RFC3339, clearing", "value", expiryRaw, "error", err)
		s.ClearSession()
		return "", false
	}

	if !s.now().Before(expiresAt) {
		s.logger.Info("stored session expired, clearing", "session_id", id, "expired_at", expiresAt)
		s.ClearSession()
		return "", false
	}

	return id, true
}

// SaveSession persists the session id and its expiry in one transaction so
// later reads never observe one without the other.
func (s *Store) SaveSession(sessionID string, expiresAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := "INSERT OR REPLACE INTO client_state (key, value) VALUES (?, ?)"
	if _, err := tx.Exec(upsert, keySessionID, sessionID); err != nil {
		return fmt.Errorf("failed to save session id: %w", err)
	}
	if _, err := tx.Exec(upsert, keySessionExpiry, expiresAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to save session expiry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	s.logger.Info("session saved", "session_id", sessionID, "expires_at", expiresAt)
	return nil
}

// ClearSession removes both persisted values. Idempotent; failures are
// logged but not surfaced, since a clear that cannot reach storage still
// leaves the caller with "no session" semantics on the next read.
func (s *Store) ClearSession() {
	if _, err := s.db.Exec(
		"DELETE FROM client_state WHERE key IN (?, ?)",
		keySessionID, keySessionExpiry,
	); err != nil {
		s.logger.Warn("failed to clear session", "error", err)
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) readValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM client_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}
