// ABOUTME: Store interface and data types for coven-relay persistence
// ABOUTME: Defines the message Record struct and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Record represents one sent-or-received chat message participating in a
// reply thread. Records are identified by (conversationID, messageID), both
// platform-assigned, and are never updated or deleted once written.
type Record struct {
	// IsBot is true when the message was produced by the assistant.
	IsBot bool

	// Text is the message content exactly as sent or received.
	Text string

	// ReplyTo is the message ID this record replies to within the same
	// conversation. Empty for a conversation root.
	ReplyTo string

	CreatedAt time.Time
}

// IsRoot reports whether this record starts a conversation thread.
func (r *Record) IsRoot() bool {
	return r.ReplyTo == ""
}

// Store defines the interface for message record and whitelist persistence.
//
// Implementations must be safe for concurrent use; callers take no external
// lock. Writes are individually committed - there are no transactions across
// multiple keys.
type Store interface {
	// PutRecord durably writes a message record under its composite key.
	// Last writer wins; single-process access is assumed.
	PutRecord(ctx context.Context, conversationID, messageID string, rec *Record) error

	// GetRecord returns the record for the given key, or ErrNotFound.
	GetRecord(ctx context.Context, conversationID, messageID string) (*Record, error)

	// Whitelist of conversations allowed to use the relay.
	// AddWhitelist and RemoveWhitelist are idempotent.
	IsWhitelisted(ctx context.Context, conversationID string) (bool, error)
	AddWhitelist(ctx context.Context, conversationID string) error
	RemoveWhitelist(ctx context.Context, conversationID string) error
	ListWhitelist(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}
