// ABOUTME: Tests for the bot message pipeline
// ABOUTME: Covers classification, guards, commands, and the full relay flow

package bot

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/responder"
	"github.com/2389/coven-relay/internal/store"
)

const (
	testRoom   = "!room:example.org"
	testSender = "@user:example.org"
	testAdmin  = "@admin:example.org"
	testBotID  = "@relay:example.org"
)

// sliceStream yields scripted deltas then EOF (or a scripted error).
type sliceStream struct {
	deltas []string
	err    error
	i      int
}

func (s *sliceStream) Recv() (completion.Delta, error) {
	if s.i >= len(s.deltas) {
		if s.err != nil {
			return completion.Delta{}, s.err
		}
		return completion.Delta{}, io.EOF
	}
	d := s.deltas[s.i]
	s.i++
	return completion.Delta{Text: d}, nil
}

func (s *sliceStream) Close() error { return nil }

// mockCompleter records the history it was handed and returns a scripted
// stream or error.
type mockCompleter struct {
	history []string
	stream  responder.DeltaStream
	err     error
}

func (m *mockCompleter) Complete(ctx context.Context, history []string) (responder.DeltaStream, error) {
	m.history = history
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

// sentMsg records one outbound transport call.
type sentMsg struct {
	replyTo string
	msgID   string
	text    string
	edit    bool
}

// recordingTransport captures sends and edits, assigning sequential IDs.
type recordingTransport struct {
	sent []sentMsg
	n    int
}

func (t *recordingTransport) SendReply(ctx context.Context, conversationID, replyToID, text string) (string, error) {
	t.n++
	msgID := "$sent-" + string(rune('0'+t.n))
	t.sent = append(t.sent, sentMsg{replyTo: replyToID, msgID: msgID, text: text})
	return msgID, nil
}

func (t *recordingTransport) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	t.sent = append(t.sent, sentMsg{msgID: messageID, text: text, edit: true})
	return nil
}

func (t *recordingTransport) IsTransient(err error) bool { return false }

// fakeRooms answers membership lookups from a static member count map.
type fakeRooms struct {
	members map[id.RoomID]int
}

func (f *fakeRooms) JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	joined := make(map[id.UserID]mautrix.JoinedMember)
	for i := 0; i < f.members[roomID]; i++ {
		joined[id.UserID(string(rune('a'+i))+":example.org")] = mautrix.JoinedMember{}
	}
	return &mautrix.RespJoinedMembers{Joined: joined}, nil
}

type testHarness struct {
	bot       *Bot
	store     store.Store
	transport *recordingTransport
	completer *mockCompleter
	rooms     *fakeRooms
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Matrix.UserID = testBotID
	cfg.Bot.AdminUserID = testAdmin
	cfg.Bot.NewThreadPrefix = config.DefaultNewThreadPrefix

	transport := &recordingTransport{}
	completer := &mockCompleter{stream: &sliceStream{deltas: []string{"hi"}}}
	rooms := &fakeRooms{members: map[id.RoomID]int{testRoom: 2}}

	return &testHarness{
		bot:       newBot(cfg, st, completer, transport, rooms, nil),
		store:     st,
		transport: transport,
		completer: completer,
		rooms:     rooms,
	}
}

func (h *testHarness) whitelist(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.AddWhitelist(context.Background(), testRoom))
}

func msg(body string, replyTo id.EventID) *inbound {
	return &inbound{
		RoomID:  testRoom,
		Sender:  testSender,
		EventID: "$inbound",
		Body:    body,
		ReplyTo: replyTo,
	}
}

func TestClassify_NewThreadPrefix(t *testing.T) {
	h := newHarness(t)

	kind, text, parent := h.bot.classify(context.Background(), msg("$hello there", ""))
	assert.Equal(t, turnNew, kind)
	assert.Equal(t, "hello there", text)
	assert.Empty(t, parent)
}

func TestClassify_ReplyToBot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.PutRecord(ctx, testRoom, "$bot-msg",
		&store.Record{IsBot: true, Text: "earlier answer"}))

	kind, text, parent := h.bot.classify(ctx, msg("follow-up", "$bot-msg"))
	assert.Equal(t, turnContinue, kind)
	assert.Equal(t, "follow-up", text)
	assert.Equal(t, id.EventID("$bot-msg"), parent)
}

func TestClassify_ReplyToUserIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.PutRecord(ctx, testRoom, "$user-msg",
		&store.Record{IsBot: false, Text: "someone else"}))

	kind, _, _ := h.bot.classify(ctx, msg("just chatting", "$user-msg"))
	assert.Equal(t, turnIgnore, kind)
}

func TestClassify_ReplyToUnknownFallsBackToPrefix(t *testing.T) {
	h := newHarness(t)

	// Reply target is not in the store; a prefixed body still starts a new
	// thread rather than being dropped.
	kind, text, _ := h.bot.classify(context.Background(), msg("$fresh start", "$unknown"))
	assert.Equal(t, turnNew, kind)
	assert.Equal(t, "fresh start", text)
}

func TestClassify_PlainMessageIgnored(t *testing.T) {
	h := newHarness(t)

	kind, _, _ := h.bot.classify(context.Background(), msg("not for the bot", ""))
	assert.Equal(t, turnIgnore, kind)
}

func TestHandleConversation_NewThread(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)
	ctx := context.Background()

	h.completer.stream = &sliceStream{deltas: []string{"Hello", " there"}}
	h.bot.process(ctx, msg("$hi bot", ""))

	// The completion saw exactly the stripped inbound text.
	assert.Equal(t, []string{"hi bot"}, h.completer.history)

	// One final send, threaded under the inbound message.
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "$inbound", h.transport.sent[0].replyTo)
	assert.Equal(t, "Hello there", h.transport.sent[0].text)

	// Both sides of the turn were persisted.
	in, err := h.store.GetRecord(ctx, testRoom, "$inbound")
	require.NoError(t, err)
	assert.False(t, in.IsBot)
	assert.Equal(t, "hi bot", in.Text)
	assert.True(t, in.IsRoot())

	out, err := h.store.GetRecord(ctx, testRoom, h.transport.sent[0].msgID)
	require.NoError(t, err)
	assert.True(t, out.IsBot)
	assert.Equal(t, "Hello there", out.Text)
	assert.Equal(t, "$inbound", out.ReplyTo)
}

func TestHandleConversation_ContinuedThread(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)
	ctx := context.Background()

	require.NoError(t, h.store.PutRecord(ctx, testRoom, "$root",
		&store.Record{IsBot: false, Text: "first question"}))
	require.NoError(t, h.store.PutRecord(ctx, testRoom, "$answer",
		&store.Record{IsBot: true, Text: "first answer", ReplyTo: "$root"}))

	h.completer.stream = &sliceStream{deltas: []string{"second answer"}}
	h.bot.process(ctx, msg("second question", "$answer"))

	assert.Equal(t, []string{"first question", "first answer", "second question"}, h.completer.history)
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "second answer", h.transport.sent[0].text)
}

func TestHandleConversation_BrokenChainNotice(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)
	ctx := context.Background()

	// The bot message exists but its parent is gone.
	require.NoError(t, h.store.PutRecord(ctx, testRoom, "$answer",
		&store.Record{IsBot: true, Text: "orphaned answer", ReplyTo: "$vanished"}))

	h.bot.process(ctx, msg("continue please", "$answer"))

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, noticeChainFailed, h.transport.sent[0].text)

	// The inbound message is still recorded even though resolution failed.
	_, err := h.store.GetRecord(ctx, testRoom, "$inbound")
	assert.NoError(t, err)
}

func TestHandleConversation_CompletionErrorNotice(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)

	h.completer.err = errors.New("api down")
	h.bot.process(context.Background(), msg("$hi", ""))

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "[!] Completion API error:")
	assert.Contains(t, h.transport.sent[0].text, "api down")
}

func TestHandleConversation_StreamErrorEditsPartial(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)

	h.completer.stream = &sliceStream{deltas: []string{"partial"}, err: errors.New("cut off")}
	h.bot.process(context.Background(), msg("$hi", ""))

	// Stream failed before anything was sent: error notice is a fresh send.
	require.Len(t, h.transport.sent, 1)
	assert.False(t, h.transport.sent[0].edit)
	assert.Contains(t, h.transport.sent[0].text, "cut off")
}

func TestHandleConversation_UnaddressedPrivateGetsHint(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)

	h.bot.process(context.Background(), msg("just talking", ""))

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, "start a new conversation")
	assert.Empty(t, h.completer.history)
}

func TestHandleConversation_UnaddressedGroupSilent(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)
	h.rooms.members[testRoom] = 5

	h.bot.process(context.Background(), msg("group chatter", ""))
	assert.Empty(t, h.transport.sent)
}

func TestGuard_WhitelistDeniedPrivate(t *testing.T) {
	h := newHarness(t)

	h.bot.process(context.Background(), msg("$hi", ""))

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "This chat is not in whitelist", h.transport.sent[0].text)
}

func TestGuard_WhitelistDeniedGroupSilent(t *testing.T) {
	h := newHarness(t)
	h.rooms.members[testRoom] = 5

	h.bot.process(context.Background(), msg("$hi", ""))
	assert.Empty(t, h.transport.sent)
}

func TestGuard_AdminPrivateBypassesWhitelist(t *testing.T) {
	h := newHarness(t)

	m := msg("$hi", "")
	m.Sender = testAdmin
	h.bot.process(context.Background(), m)

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "hi", h.transport.sent[0].text)
}

func TestCommand_PingUnguarded(t *testing.T) {
	h := newHarness(t)

	// Not whitelisted, not admin: ping still answers.
	h.bot.process(context.Background(), msg("!ping", ""))

	require.Len(t, h.transport.sent, 1)
	text := h.transport.sent[0].text
	assert.Contains(t, text, "pong!")
	assert.Contains(t, text, testRoom)
	assert.Contains(t, text, "whitelisted: false")
}

func TestCommand_WhitelistAddRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	h.bot.process(context.Background(), msg("!whitelist add", ""))

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Only admin can do this", h.transport.sent[0].text)

	ok, err := h.store.IsWhitelisted(context.Background(), testRoom)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommand_WhitelistAddAndDel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin := func(body string) *inbound {
		m := msg(body, "")
		m.Sender = testAdmin
		return m
	}

	h.bot.process(ctx, admin("!whitelist add"))
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Whitelist added", h.transport.sent[0].text)

	h.bot.process(ctx, admin("!whitelist add"))
	assert.Equal(t, "Already in whitelist", h.transport.sent[1].text)

	h.bot.process(ctx, admin("!whitelist del"))
	assert.Equal(t, "Whitelist deleted", h.transport.sent[2].text)

	h.bot.process(ctx, admin("!whitelist del"))
	assert.Equal(t, "Not in whitelist", h.transport.sent[3].text)
}

func TestCommand_WhitelistListPrivateOnly(t *testing.T) {
	h := newHarness(t)
	h.rooms.members[testRoom] = 5

	m := msg("!whitelist list", "")
	m.Sender = testAdmin
	h.bot.process(context.Background(), m)

	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "This command only works in private chat", h.transport.sent[0].text)
}

func TestCommand_WhitelistList(t *testing.T) {
	h := newHarness(t)
	h.whitelist(t)

	m := msg("!whitelist list", "")
	m.Sender = testAdmin
	h.bot.process(context.Background(), m)

	require.Len(t, h.transport.sent, 1)
	assert.Contains(t, h.transport.sent[0].text, testRoom)
}

func TestBuildMessageContent_PlainText(t *testing.T) {
	content := buildMessageContent("just words")
	assert.Equal(t, "just words", content.Body)
	assert.Empty(t, content.FormattedBody)
}

func TestBuildMessageContent_Markdown(t *testing.T) {
	content := buildMessageContent("some **bold** text")
	assert.Equal(t, "some **bold** text", content.Body)
	assert.Contains(t, content.FormattedBody, "<strong>bold</strong>")
}

func TestIsPrivate_Cached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.True(t, h.bot.isPrivate(ctx, testRoom))

	// Later membership changes are not observed; the cached answer sticks.
	h.rooms.members[testRoom] = 5
	assert.True(t, h.bot.isPrivate(ctx, testRoom))
}
