// ABOUTME: Streaming client for an OpenAI-compatible chat completion API
// ABOUTME: Builds alternating-role requests and retries server-side failures

package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Roles used in completion API messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt is used when the config does not override the prompt.
// The {current_time} placeholder is substituted on every call.
const DefaultSystemPrompt = "You are a chat relay assistant backed by a large language model. " +
	"Answer as concisely as possible. Current UTC time: {current_time}"

// maxCallRetries is how many additional attempts are made when the API
// rejects the call with a server-side error.
const maxCallRetries = 2

// APIError is a non-200 response from the completion API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure was server-side and worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	httpClient   *http.Client
	logger       *slog.Logger

	// now is stubbed in tests to pin the system prompt timestamp.
	now func() time.Time
}

// NewClient creates a completion client. systemPrompt may be empty to use
// DefaultSystemPrompt; a {current_time} placeholder in the prompt is replaced
// with the current UTC time on every request.
func NewClient(baseURL, apiKey, model, systemPrompt string, logger *slog.Logger) *Client {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{},
		logger:       logger.With("component", "completion"),
		now:          time.Now,
	}
}

// Complete sends the conversation history to the completion API and returns
// a stream of response deltas. History must be chronological with strictly
// alternating roles, starting and ending on a user message (odd length).
//
// Server-side (5xx) rejections are retried up to 2 more times before the
// error propagates; any other failure propagates immediately.
func (c *Client) Complete(ctx context.Context, history []string) (*Stream, error) {
	if len(history)%2 != 1 {
		return nil, fmt.Errorf("history must have odd length, got %d", len(history))
	}

	messages := c.buildMessages(history)
	c.logger.Debug("completion request", "model", c.model, "turns", len(messages))

	var lastErr error
	for attempt := 0; attempt <= maxCallRetries; attempt++ {
		stream, err := c.open(ctx, messages)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return nil, err
		}
		if attempt < maxCallRetries {
			c.logger.Warn("completion API server error, retrying",
				"status", apiErr.StatusCode,
				"attempt", attempt+1)
		}
	}
	return nil, lastErr
}

// buildMessages prepends the system instruction and alternates user/assistant
// turns over the chronological history, first turn always user.
func (c *Client) buildMessages(history []string) []Message {
	currentTime := c.now().UTC().Format("2006-01-02 15:04")
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{
		Role:    RoleSystem,
		Content: strings.ReplaceAll(c.systemPrompt, "{current_time}", currentTime),
	})

	roles := [2]string{RoleUser, RoleAssistant}
	for i, text := range history {
		messages = append(messages, Message{Role: roles[i%2], Content: text})
	}
	return messages
}

// open performs one streaming request against the API.
func (c *Client) open(ctx context.Context, messages []Message) (*Stream, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}

	return &Stream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		logger:  c.logger,
	}, nil
}
