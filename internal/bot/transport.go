// ABOUTME: Matrix implementation of the responder transport
// ABOUTME: Sends threaded replies, edits messages in place, classifies transient errors

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// matrixTransport adapts the mautrix client to the responder.Transport
// interface.
type matrixTransport struct {
	client *mautrix.Client
	logger *slog.Logger
}

func (t *matrixTransport) SendReply(ctx context.Context, conversationID, replyToID, text string) (string, error) {
	content := buildMessageContent(text)
	content.RelatesTo = &event.RelatesTo{
		InReplyTo: &event.InReplyTo{EventID: id.EventID(replyToID)},
	}

	resp, err := t.client.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending reply: %w", err)
	}
	return resp.EventID.String(), nil
}

func (t *matrixTransport) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	content := buildMessageContent(text)
	content.SetEdit(id.EventID(messageID))

	if _, err := t.client.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, content); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

// IsTransient reports whether an outbound call is worth retrying. Rate
// limits, server-side failures, and network-level errors all clear on their
// own; anything else (bad token, forbidden, malformed event) will not.
func (t *matrixTransport) IsTransient(err error) bool {
	if errors.Is(err, mautrix.MLimitExceeded) {
		return true
	}

	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		code := httpErr.Response.StatusCode
		return code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
