// ABOUTME: Tests for transient error classification in the Matrix transport
// ABOUTME: Verifies retry decisions for rate limits, server errors, and network failures

package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix"
)

// timeoutErr satisfies net.Error.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tr := &matrixTransport{}

	httpErr := func(code int) error {
		return mautrix.HTTPError{Response: &http.Response{StatusCode: code}}
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", mautrix.MLimitExceeded, true},
		{"wrapped rate limit", fmt.Errorf("sending reply: %w", mautrix.MLimitExceeded), true},
		{"server error", httpErr(502), true},
		{"too many requests", httpErr(429), true},
		{"forbidden", httpErr(403), false},
		{"bad request", httpErr(400), false},
		{"network timeout", timeoutErr{}, true},
		{"wrapped network timeout", fmt.Errorf("editing message: %w", timeoutErr{}), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.IsTransient(tt.err))
		})
	}
}
