// ABOUTME: Resolver reconstructs conversation history by walking reply chains
// ABOUTME: Validates strict user/assistant role alternation from leaf to root

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-relay/internal/store"
)

// Chain integrity failures. None of these are retryable: they mean the
// stored thread cannot produce a valid completion request, and the caller
// should tell the user to start a new conversation.
var (
	// ErrChainBroken indicates a reply pointer led to a record that does
	// not exist in the store.
	ErrChainBroken = errors.New("history message not found")

	// ErrRoleMismatch indicates adjacent records do not alternate between
	// user and assistant.
	ErrRoleMismatch = errors.New("role does not match")

	// ErrRootNotUser indicates the chain's root message was produced by
	// the assistant.
	ErrRootNotUser = errors.New("first message not from user")
)

// ChainError wraps a chain integrity failure with the position it occurred at.
type ChainError struct {
	ConversationID string
	MessageID      string
	Err            error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("conversation %s message %s: %v", e.ConversationID, e.MessageID, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// RecordGetter defines what the resolver needs from storage
type RecordGetter interface {
	GetRecord(ctx context.Context, conversationID, messageID string) (*store.Record, error)
}

// Resolver walks reply chains backward through the record store and returns
// chronological message history.
type Resolver struct {
	store  RecordGetter
	logger *slog.Logger
}

// NewResolver creates a new Resolver backed by the given record store.
func NewResolver(s RecordGetter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "conversation"),
	}
}

// Resolve walks the reply chain from the given leaf message back to the
// conversation root and returns the message texts in chronological order:
// user, assistant, user, ..., user. The leaf must be a user message and the
// resulting chain always has odd length.
//
// The chain is re-walked on every call; nothing is cached. Resolution
// performs no writes, so resolving the same leaf twice with no intervening
// store mutation yields identical output.
func (r *Resolver) Resolve(ctx context.Context, conversationID, leafMessageID string) ([]string, error) {
	var messages []string
	shouldBeBot := false
	messageID := leafMessageID

	for {
		rec, err := r.store.GetRecord(ctx, conversationID, messageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.logger.Error("history message not found",
					"conversation_id", conversationID,
					"message_id", messageID)
				return nil, &ChainError{ConversationID: conversationID, MessageID: messageID, Err: ErrChainBroken}
			}
			return nil, fmt.Errorf("loading record: %w", err)
		}

		if rec.IsBot != shouldBeBot {
			r.logger.Error("role does not match",
				"conversation_id", conversationID,
				"message_id", messageID,
				"is_bot", rec.IsBot)
			return nil, &ChainError{ConversationID: conversationID, MessageID: messageID, Err: ErrRoleMismatch}
		}

		messages = append(messages, rec.Text)
		shouldBeBot = !shouldBeBot

		if rec.IsRoot() {
			break
		}
		messageID = rec.ReplyTo
	}

	// The root must be a user message, which makes every valid chain odd
	// in length.
	if len(messages)%2 != 1 {
		r.logger.Error("first message not from user",
			"conversation_id", conversationID,
			"message_id", messageID)
		return nil, &ChainError{ConversationID: conversationID, MessageID: messageID, Err: ErrRootNotUser}
	}

	// Reverse from leaf-first to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	r.logger.Debug("chain resolved",
		"conversation_id", conversationID,
		"leaf_message_id", leafMessageID,
		"length", len(messages))
	return messages, nil
}
