// ABOUTME: Matrix bot core for coven-relay
// ABOUTME: Handles sync loop, message classification, and per-turn orchestration

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/responder"
	"github.com/2389/coven-relay/internal/store"
)

// User-facing notices.
const (
	noticeChainFailed      = "[!] Error: can't fetch this conversation, please start a new one."
	noticeStorageFailed    = "[!] Error: failed to record your message, please try again."
	noticeUsageHintFmt     = "Please start a new conversation with %s or reply to one of my messages"
	noticeCompletionErrFmt = "[!] Completion API error: %v"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for auxiliary Matrix API calls.
const networkTimeout = 10 * time.Second

// Completer defines what the bot needs from the completion layer
type Completer interface {
	Complete(ctx context.Context, history []string) (responder.DeltaStream, error)
}

// completionAdapter adapts *completion.Client to the Completer interface.
type completionAdapter struct {
	client *completion.Client
}

func (a completionAdapter) Complete(ctx context.Context, history []string) (responder.DeltaStream, error) {
	stream, err := a.client.Complete(ctx, history)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// roomInfoSource exposes the room membership lookup used for private-room
// detection.
type roomInfoSource interface {
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
}

// inbound is one incoming text message after event unwrapping.
type inbound struct {
	RoomID  id.RoomID
	Sender  id.UserID
	EventID id.EventID
	Body    string
	ReplyTo id.EventID // raw reply target, empty if not a reply
}

// Bot relays Matrix messages to the completion API and back.
type Bot struct {
	cfg       *config.Config
	matrix    *mautrix.Client
	rooms     roomInfoSource
	store     store.Store
	resolver  *conversation.Resolver
	completer Completer
	transport responder.Transport
	responder *responder.Responder
	logger    *slog.Logger
	botID     id.UserID

	locks        roomLocks
	privateCache sync.Map // id.RoomID -> bool

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bot wired to Matrix and the completion API.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	transport := &matrixTransport{client: client, logger: logger}
	completer := completionAdapter{client: completion.NewClient(
		cfg.Completion.BaseURL,
		cfg.Completion.APIKey,
		cfg.Completion.Model,
		cfg.Completion.SystemPrompt,
		logger,
	)}

	b := newBot(cfg, st, completer, transport, client, logger)
	b.matrix = client
	return b, nil
}

// newBot wires the bot from its collaborators. Split from New so tests can
// inject mocks for the transport and completion layers.
func newBot(cfg *config.Config, st store.Store, completer Completer, transport responder.Transport, rooms roomInfoSource, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bot")

	resp := responder.New(transport, logger)
	if cfg.Bot.EditInterval > 0 {
		resp.Interval = cfg.Bot.EditInterval
	}

	return &Bot{
		cfg:       cfg,
		rooms:     rooms,
		store:     st,
		resolver:  conversation.NewResolver(st, logger),
		completer: completer,
		transport: transport,
		responder: resp,
		logger:    logger,
		botID:     id.UserID(cfg.Matrix.UserID),
	}
}

// Run starts the bot and blocks until the context is cancelled or the sync
// loop fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting relay bot",
		"homeserver", b.cfg.Matrix.Homeserver,
		"user_id", b.cfg.Matrix.UserID,
		"model", b.cfg.Completion.Model,
	)

	// Store context for message processing goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	whoami, err := b.matrix.Whoami(b.ctx)
	if err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	b.botID = whoami.UserID
	b.logger.Info("bot identity confirmed", "user_id", b.botID)

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("relay bot running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down relay bot")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent unwraps incoming Matrix messages and dispatches them.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.botID {
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	// Only handle text messages
	if content.MsgType != event.MsgText {
		return
	}

	replyTo := content.RelatesTo.GetReplyTo()
	content.RemoveReplyFallback()

	msg := &inbound{
		RoomID:  evt.RoomID,
		Sender:  evt.Sender,
		EventID: evt.ID,
		Body:    content.Body,
		ReplyTo: replyTo,
	}

	b.logger.Info("new message",
		"conversation_id", msg.RoomID,
		"sender_id", msg.Sender,
		"message_id", msg.EventID,
		"text", msg.Body)

	// Process in a goroutine to not block sync. The bridge context keeps
	// processing alive across sync restarts until shutdown.
	go b.process(b.ctx, msg)
}

// process serializes handling per conversation and routes commands vs chat.
func (b *Bot) process(ctx context.Context, msg *inbound) {
	unlock := b.locks.lock(msg.RoomID)
	defer unlock()

	if b.handleCommand(ctx, msg) {
		return
	}

	if !b.runGuards(ctx, msg, b.whitelistOnly()) {
		return
	}

	if b.cfg.Bot.TypingIndicator {
		b.setTyping(msg.RoomID, true)
		defer b.setTyping(msg.RoomID, false)
	}

	b.handleConversation(ctx, msg)
}

// turnKind classifies an inbound message.
type turnKind int

const (
	turnIgnore   turnKind = iota // not addressed to the bot
	turnContinue                 // reply to one of the bot's messages
	turnNew                      // prefixed message starting a fresh root
)

// classify decides how an inbound message participates in a thread. It
// returns the kind, the text to record (prefix stripped for new threads),
// and the parent message ID for thread continuation.
func (b *Bot) classify(ctx context.Context, msg *inbound) (turnKind, string, id.EventID) {
	if msg.ReplyTo != "" {
		parent, err := b.store.GetRecord(ctx, msg.RoomID.String(), msg.ReplyTo.String())
		if err == nil && parent.IsBot {
			// user reply to bot message
			return turnContinue, msg.Body, msg.ReplyTo
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			b.logger.Error("classify lookup failed", "error", err, "message_id", msg.ReplyTo)
		}
	}

	if strings.HasPrefix(msg.Body, b.cfg.Bot.NewThreadPrefix) {
		return turnNew, strings.TrimPrefix(msg.Body, b.cfg.Bot.NewThreadPrefix), ""
	}

	return turnIgnore, "", ""
}

// handleConversation runs the full per-message pipeline: persist inbound,
// resolve history, stream the completion through the responder, persist the
// outbound record. Terminal on first error.
func (b *Bot) handleConversation(ctx context.Context, msg *inbound) {
	requestID := uuid.New().String()
	logger := b.logger.With(
		"request_id", requestID,
		"conversation_id", msg.RoomID,
		"message_id", msg.EventID)

	kind, text, parent := b.classify(ctx, msg)
	if kind == turnIgnore {
		// Not addressed to the bot; hint in private rooms only.
		if b.isPrivate(ctx, msg.RoomID) {
			b.sendNotice(ctx, msg, fmt.Sprintf(noticeUsageHintFmt, b.cfg.Bot.NewThreadPrefix))
		}
		return
	}

	// Persist the inbound record first so the just-received message
	// participates in its own chain.
	rec := &store.Record{IsBot: false, Text: text, ReplyTo: parent.String()}
	if err := b.store.PutRecord(ctx, msg.RoomID.String(), msg.EventID.String(), rec); err != nil {
		logger.Error("failed to record inbound message", "error", err)
		b.sendNotice(ctx, msg, noticeStorageFailed)
		return
	}

	history, err := b.resolver.Resolve(ctx, msg.RoomID.String(), msg.EventID.String())
	if err != nil {
		logger.Error("chain resolution failed", "error", err)
		b.sendNotice(ctx, msg, noticeChainFailed)
		return
	}

	turn := responder.Turn{
		ConversationID: msg.RoomID.String(),
		SenderID:       msg.Sender.String(),
		InboundID:      msg.EventID.String(),
		RequestID:      requestID,
	}

	stream, err := b.completer.Complete(ctx, history)
	if err != nil {
		logger.Error("completion call failed", "error", err)
		b.notifyError(ctx, turn, "", err)
		return
	}

	replyID, finalText, err := b.responder.Relay(ctx, turn, stream)
	if err != nil {
		logger.Error("relay failed", "error", err)
		b.notifyError(ctx, turn, replyID, err)
		return
	}

	// Persist the assistant reply so future replies can continue the chain.
	outRec := &store.Record{IsBot: true, Text: finalText, ReplyTo: msg.EventID.String()}
	if err := b.store.PutRecord(ctx, msg.RoomID.String(), replyID, outRec); err != nil {
		logger.Error("failed to record outbound message", "error", err)
		return
	}

	logger.Info("turn complete", "reply_id", replyID, "history_len", len(history))
}

// notifyError surfaces a completion failure in place of the answer, editing
// the partial reply when one was already created.
func (b *Bot) notifyError(ctx context.Context, turn responder.Turn, msgID string, cause error) {
	notice := fmt.Sprintf(noticeCompletionErrFmt, cause)
	if _, err := b.responder.Deliver(ctx, turn, msgID, notice); err != nil {
		b.logger.Error("failed to deliver error notice", "error", err, "conversation_id", turn.ConversationID)
	}
}

// sendNotice sends a plain one-shot reply outside the throttled pipeline.
func (b *Bot) sendNotice(ctx context.Context, msg *inbound, text string) {
	if _, err := b.transport.SendReply(ctx, msg.RoomID.String(), msg.EventID.String(), text); err != nil {
		b.logger.Error("failed to send notice", "error", err, "conversation_id", msg.RoomID)
	}
}

// isPrivate reports whether the room is a two-member DM. Results are cached
// per room for the process lifetime.
func (b *Bot) isPrivate(ctx context.Context, roomID id.RoomID) bool {
	if v, ok := b.privateCache.Load(roomID); ok {
		return v.(bool)
	}

	resp, err := b.rooms.JoinedMembers(ctx, roomID)
	if err != nil {
		b.logger.Warn("failed to look up room members", "error", err, "conversation_id", roomID)
		return false
	}

	private := len(resp.Joined) == 2
	b.privateCache.Store(roomID, private)
	return private
}

// setTyping sends a typing indicator to the room.
func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	if b.matrix == nil {
		return
	}
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "conversation_id", roomID, "error", err)
	}
}

// roomLocks serializes message handling per conversation so interleaved
// writes cannot corrupt a single room's reply chain.
type roomLocks struct {
	mu    sync.Mutex
	locks map[id.RoomID]*sync.Mutex
}

func (l *roomLocks) lock(room id.RoomID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[id.RoomID]*sync.Mutex)
	}
	rl, ok := l.locks[room]
	if !ok {
		rl = &sync.Mutex{}
		l.locks[room] = rl
	}
	l.mu.Unlock()

	rl.Lock()
	return rl.Unlock
}
