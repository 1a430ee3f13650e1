package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
)

// Keys of the two session entries.
const (
	TokenKey = "token"
	UserKey  = "user"
)

// decodeSession builds a session from raw entries, returning nil for anything incomplete or malformed.
func decodeSession(entries map[string]string) *models.Session {
	token := entries[TokenKey]
	raw, ok := entries[UserKey]
	if token == "" || !ok {
		return nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil
	}
	if profile.Validate() != nil {
		return nil
	}
	return &models.Session{Credential: token, Profile: &profile}
}

func encodeEntries(credential string, profile models.UserProfile) (map[string]string, error) {
	if credential == "" {
		return nil, fmt.Errorf("credential is empty")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return map[string]string{TokenKey: credential, UserKey: string(data)}, nil
}

// SessionRepository persists the session in the session_entries table.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new [SessionRepository] with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Load returns the stored session, or nil when no complete and valid session is stored.
func (r *SessionRepository) Load(ctx context.Context) (*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM session_entries WHERE key IN (?, ?)", TokenKey, UserKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string, 2)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan session entry: %w", err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return decodeSession(entries), nil
}

// Save writes the credential and profile together.
func (r *SessionRepository) Save(ctx context.Context, credential string, profile models.UserProfile) error {
	entries, err := encodeEntries(credential, profile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO session_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, key := range []string{TokenKey, UserKey} {
			if _, err := tx.ExecContext(ctx, query, key, entries[key], now); err != nil {
				return fmt.Errorf("failed to save session entry %s: %w", key, err)
			}
		}
		return nil
	})
}

// Clear removes both session entries.
func (r *SessionRepository) Clear(ctx context.Context) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM session_entries WHERE key IN (?, ?)", TokenKey, UserKey); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		return nil
	})
}

// Count returns the number of stored session entries.
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count session entries: %w", err)
	}
	return n, nil
}

// Seed writes a raw entry without validation.
func (r *SessionRepository) Seed(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO session_entries (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UTC())
	return err
}

// MemorySessionStore keeps session entries in memory.
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: make(map[string]string)}
}

// Load returns the stored session, or nil when none is stored.
func (m *MemorySessionStore) Load(ctx context.Context) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decodeSession(m.entries), nil
}

// Save replaces both entries under one lock.
func (m *MemorySessionStore) Save(ctx context.Context, credential string, profile models.UserProfile) error {
	entries, err := encodeEntries(credential, profile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.entries, entries)
	return nil
}

// Clear removes both entries.
func (m *MemorySessionStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, TokenKey)
	delete(m.entries, UserKey)
	return nil
}

// Seed writes a raw entry without validation.
func (m *MemorySessionStore) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// Entries returns a copy of the raw entries.
func (m *MemorySessionStore) Entries() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.entries)
}
