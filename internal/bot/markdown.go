// ABOUTME: Markdown rendering for outbound Matrix messages
// ABOUTME: Converts completion output to formatted message content

package bot

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
)

// buildMessageContent renders text as a Matrix message with an HTML body when
// the markdown conversion produces something beyond a bare paragraph. The
// plain body always carries the original text so unformatted clients see the
// raw output.
func buildMessageContent(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return content
	}

	html := strings.TrimSpace(buf.String())
	plain := "<p>" + text + "</p>"
	if html == "" || html == plain {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}
