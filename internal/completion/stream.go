// ABOUTME: Lazy pull-based stream over a chat completion SSE response
// ABOUTME: Converts wire-format chunks into text deltas with terminal handling

package completion

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrUnexpectedRole indicates a streamed fragment asserted a conversational
// role other than assistant. This is a protocol violation and aborts the turn.
var ErrUnexpectedRole = errors.New("unexpected role in stream delta")

// TruncationNotice is appended as the final delta when the API stops the
// response for hitting its length limit.
const TruncationNotice = " [output truncated: length limit reached]"

// doneSentinel terminates an SSE completion stream.
const doneSentinel = "[DONE]"

// Delta is one incremental text fragment of the streamed response. An empty
// Text is a valid no-op fragment.
type Delta struct {
	Text string
}

// wire format of one streamed chunk
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta        deltaPayload `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type deltaPayload struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Stream is a lazy, finite, non-restartable sequence of response deltas.
// It is consumed single-pass by exactly one caller.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger
	done    bool
}

// Recv returns the next delta. It returns io.EOF when the response is
// complete, ErrUnexpectedRole on a protocol violation, or a wrapped transport
// error if the stream breaks mid-response. After any error the stream is
// closed and further calls return io.EOF.
func (s *Stream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			s.Close()
			return Delta{}, io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.Close()
			return Delta{}, fmt.Errorf("decoding stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		// A terminal chunk carries no content. A length cutoff yields one
		// final truncation notice before the stream ends.
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.Close()
			if *choice.FinishReason == "length" {
				s.logger.Warn("completion truncated by length limit")
				return Delta{Text: TruncationNotice}, nil
			}
			return Delta{}, io.EOF
		}

		if choice.Delta.Role != "" && choice.Delta.Role != RoleAssistant {
			s.Close()
			return Delta{}, fmt.Errorf("%w: %q", ErrUnexpectedRole, choice.Delta.Role)
		}

		return Delta{Text: choice.Delta.Content}, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.Close()
		return Delta{}, fmt.Errorf("reading stream: %w", err)
	}

	// Upstream closed without a [DONE] sentinel; treat as a clean end.
	s.Close()
	return Delta{}, io.EOF
}

// Close releases the underlying response body. Safe to call multiple times.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}
