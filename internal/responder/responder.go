// ABOUTME: Throttled responder converting completion deltas into send/edit operations
// ABOUTME: Applies a time-based edit cadence and fixed-backoff transport retry

package responder

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/2389/coven-relay/internal/completion"
)

// Defaults for the throttle and the transport retry policy. Chat platforms
// rate-limit aggressively, so transient failures are expected to be common
// and short-lived.
const (
	DefaultInterval      = 4 * time.Second
	DefaultMarker        = " [generating...]"
	DefaultRetryAttempts = 30
	DefaultRetryDelay    = 10 * time.Second
)

// Transport abstracts send/edit calls against the chat platform.
type Transport interface {
	// SendReply posts a new message replying to replyToID and returns the
	// platform-assigned ID of the new message.
	SendReply(ctx context.Context, conversationID, replyToID, text string) (string, error)

	// EditMessage replaces the text of an already-sent message.
	EditMessage(ctx context.Context, conversationID, messageID, text string) error

	// IsTransient classifies a transport error as retryable (rate limit,
	// network failure, timeout) or fatal.
	IsTransient(err error) bool
}

// DeltaStream is the pull interface Relay consumes, satisfied by
// *completion.Stream. Relay owns the stream and closes it when it returns,
// so an aborted relay does not hold the upstream connection open.
type DeltaStream interface {
	Recv() (completion.Delta, error)
	Close() error
}

// Turn identifies the inbound message one relayed reply belongs to.
type Turn struct {
	ConversationID string
	SenderID       string
	InboundID      string // message the reply threads under
	RequestID      string // correlation ID for logs
}

// Responder converts a delta stream into a bounded number of outbound
// send/edit operations.
type Responder struct {
	transport     Transport
	Interval      time.Duration
	Marker        string
	RetryAttempts int
	RetryDelay    time.Duration
	logger        *slog.Logger

	// stubbed in tests
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Responder with the default cadence and retry policy.
func New(transport Transport, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		transport:     transport,
		Interval:      DefaultInterval,
		Marker:        DefaultMarker,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
		logger:        logger.With("component", "responder"),
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

// Relay consumes the stream and surfaces it as a throttled series of message
// edits. The first outbound call creates a reply to the inbound message;
// subsequent calls edit it. Intermediate edits carry an in-progress marker
// and happen at most once per interval, only when the buffer has grown past
// the just-received delta and differs from the last sent text. One final
// markerless edit is issued unconditionally when the stream ends.
//
// Relay returns the outbound message ID (empty if nothing was sent), the
// accumulated text, and the first unrecovered error. On error the message ID
// reflects what was created so far, so the caller can edit an error notice
// in place.
func (r *Responder) Relay(ctx context.Context, turn Turn, stream DeltaStream) (string, string, error) {
	defer stream.Close()

	var reply, lastSent, msgID string
	lastTime := r.now()

	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msgID, reply, err
		}

		reply += delta.Text
		if r.now().Sub(lastTime) >= r.Interval && reply != delta.Text && reply != lastSent {
			lastTime = r.now()
			msgID, err = r.Deliver(ctx, turn, msgID, reply+r.Marker)
			if err != nil {
				return msgID, reply, err
			}
			lastSent = reply
		}
	}

	msgID, err := r.Deliver(ctx, turn, msgID, reply)
	if err != nil {
		return msgID, reply, err
	}
	return msgID, reply, nil
}

// Deliver issues one send-or-edit with retry and logs the outcome. An empty
// msgID creates a new reply; otherwise the existing message is edited. The
// (possibly new) message ID is returned.
func (r *Responder) Deliver(ctx context.Context, turn Turn, msgID, text string) (string, error) {
	isEdit := msgID != ""
	err := r.callWithRetry(ctx, func(ctx context.Context) error {
		if isEdit {
			return r.transport.EditMessage(ctx, turn.ConversationID, msgID, text)
		}
		id, err := r.transport.SendReply(ctx, turn.ConversationID, turn.InboundID, text)
		if err == nil {
			msgID = id
		}
		return err
	})
	if err != nil {
		return msgID, err
	}

	r.logger.Info("reply message",
		"conversation_id", turn.ConversationID,
		"sender_id", turn.SenderID,
		"message_id", msgID,
		"is_edit", isEdit,
		"request_id", turn.RequestID,
		"text", text)
	return msgID, nil
}

// callWithRetry retries transient transport failures with a fixed backoff.
// Fatal errors propagate immediately; the last attempt's failure propagates
// even when transient.
func (r *Responder) callWithRetry(ctx context.Context, call func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.RetryAttempts; attempt++ {
		err = call(ctx)
		if err == nil {
			return nil
		}
		if !r.transport.IsTransient(err) {
			return err
		}
		if attempt == r.RetryAttempts-1 {
			break
		}
		r.logger.Warn("transient transport error, backing off",
			"error", err,
			"attempt", attempt+1,
			"retry_delay", r.RetryDelay)
		r.sleep(r.RetryDelay)
	}
	return err
}
