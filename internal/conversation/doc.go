// ABOUTME: Package documentation for the conversation package
// ABOUTME: Describes reply-chain resolution and its integrity rules

// Package conversation reconstructs per-thread message history from the
// record store.
//
// # Overview
//
// The chat platform stores no linear transcript. Each message record points
// at the message it replies to, so a conversation is a chain of reply
// pointers from the newest user message (the leaf) back to the thread root.
// The Resolver walks that chain and returns message texts oldest-first,
// ready to become completion API turns.
//
// # Integrity Rules
//
// A chain is well-formed only if:
//
//   - every reply pointer resolves to a stored record (else ErrChainBroken)
//   - roles strictly alternate user/assistant at every hop (else ErrRoleMismatch)
//   - the root is a user message, i.e. the chain has odd length (else ErrRootNotUser)
//
// Violations are data-integrity errors surfaced as a *ChainError. They are
// never retried and never silently recovered - the caller reports the thread
// as unusable and the user starts a new one.
package conversation
