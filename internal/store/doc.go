// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the record store data model and SQLite configuration

// Package store provides persistent storage for the relay using SQLite.
//
// # Data Model
//
//   - Record: One chat message in a reply thread, keyed by the composite
//     (conversation ID, message ID) pair assigned by the chat platform.
//     Records form an append-only log of the chat's structure: each record
//     optionally points at the message it replies to, and records are never
//     updated or deleted once written.
//   - Whitelist: The set of conversation IDs allowed to use the relay,
//     persisted across restarts and cached in memory between writes.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// SQLiteStore is safe for concurrent use from multiple goroutines; callers
// never take an external lock. There are no multi-key transactions - every
// write commits individually and readers must tolerate that.
//
// # Error Handling
//
//   - ErrNotFound: Requested record does not exist
package store
