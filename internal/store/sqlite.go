// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides record/whitelist persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Whitelist cache. The whitelist is read on every inbound message and
	// written rarely, so it is held in memory and invalidated on write.
	wlMu     sync.RWMutex
	wlCache  map[string]bool
	wlLoaded bool
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		logger:  logger,
		wlCache: make(map[string]bool),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			is_bot INTEGER NOT NULL,
			text TEXT NOT NULL,
			reply_to TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, message_id)
		);

		CREATE TABLE IF NOT EXISTS whitelist (
			conversation_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutRecord writes a message record. INSERT OR REPLACE keeps the write
// idempotent; records are logically immutable, so a replay of the same
// platform message simply rewrites identical data.
func (s *SQLiteStore) PutRecord(ctx context.Context, conversationID, messageID string, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO records (conversation_id, message_id, is_bot, text, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, messageID, rec.IsBot, rec.Text, rec.ReplyTo, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	s.logger.Debug("record saved",
		"conversation_id", conversationID,
		"message_id", messageID,
		"is_bot", rec.IsBot)
	return nil
}

// GetRecord returns the record for the given composite key, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, conversationID, messageID string) (*Record, error) {
	var rec Record
	var isBot int
	err := s.db.QueryRowContext(ctx, `
		SELECT is_bot, text, reply_to, created_at
		FROM records
		WHERE conversation_id = ? AND message_id = ?`,
		conversationID, messageID,
	).Scan(&isBot, &rec.Text, &rec.ReplyTo, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}

	rec.IsBot = isBot != 0
	return &rec, nil
}

// IsWhitelisted reports whether the conversation may use the relay.
func (s *SQLiteStore) IsWhitelisted(ctx context.Context, conversationID string) (bool, error) {
	s.wlMu.RLock()
	if s.wlLoaded {
		ok := s.wlCache[conversationID]
		s.wlMu.RUnlock()
		return ok, nil
	}
	s.wlMu.RUnlock()

	if err := s.loadWhitelist(ctx); err != nil {
		return false, err
	}

	s.wlMu.RLock()
	defer s.wlMu.RUnlock()
	return s.wlCache[conversationID], nil
}

// AddWhitelist adds a conversation to the whitelist. Adding an existing
// entry is a no-op.
func (s *SQLiteStore) AddWhitelist(ctx context.Context, conversationID string) error {
	s.wlMu.Lock()
	defer s.wlMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO whitelist (conversation_id, created_at) VALUES (?, ?)`,
		conversationID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting whitelist entry: %w", err)
	}

	if s.wlLoaded {
		s.wlCache[conversationID] = true
	}
	s.logger.Info("whitelist added", "conversation_id", conversationID)
	return nil
}

// RemoveWhitelist removes a conversation from the whitelist. Removing a
// missing entry is a no-op.
func (s *SQLiteStore) RemoveWhitelist(ctx context.Context, conversationID string) error {
	s.wlMu.Lock()
	defer s.wlMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM whitelist WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting whitelist entry: %w", err)
	}

	if s.wlLoaded {
		delete(s.wlCache, conversationID)
	}
	s.logger.Info("whitelist removed", "conversation_id", conversationID)
	return nil
}

// ListWhitelist returns all whitelisted conversation IDs in insertion order.
func (s *SQLiteStore) ListWhitelist(ctx context.Context) ([]string, error) {
	return s.listWhitelistLocked(ctx)
}

// listWhitelistLocked runs the whitelist query. It takes no lock itself so
// loadWhitelist can call it while holding wlMu.
func (s *SQLiteStore) listWhitelistLocked(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id FROM whitelist ORDER BY created_at, conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning whitelist entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadWhitelist populates the in-memory whitelist cache from the database.
// The query runs under the write lock: a concurrent AddWhitelist either
// commits before the snapshot is taken or blocks until the cache is loaded
// and then updates it, so no write can fall into a gap between the two.
func (s *SQLiteStore) loadWhitelist(ctx context.Context) error {
	s.wlMu.Lock()
	defer s.wlMu.Unlock()
	if s.wlLoaded {
		return nil
	}

	ids, err := s.listWhitelistLocked(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.wlCache[id] = true
	}
	s.wlLoaded = true
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
