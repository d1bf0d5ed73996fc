// Package client talks to the relay's chat endpoint and turns its replies
// into display text or typed errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gemini-relay/internal/models"
	"gemini-relay/internal/translator"
)

const (
	DefaultEndpoint = "http://127.0.0.1:8888/chat"
	defaultTimeout  = 90 * time.Second
	maxReplyBytes   = 8 << 20
)

// Error is a failed chat call as reported by the relay, or KindUnreachable
// when the relay could not be contacted.
type Error struct {
	Kind    models.ErrorKind
	Status  int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Hint returns a short suggestion for the user based on the error kind.
func Hint(kind models.ErrorKind) string {
	switch kind {
	case models.KindServerMisconfigured:
		return "Set GEMINI_API_KEY on the server and restart it."
	case models.KindUnreachable:
		return "Make sure the relay is running (gemini-relay serve) and the endpoint is correct."
	case models.KindUpstreamTimeout:
		return "Gemini took too long to answer. Try again or raise gemini.timeout."
	case models.KindUpstreamError:
		return "Gemini rejected the request. Check the model name and your quota."
	case models.KindMalformedUpstreamResponse:
		return "Gemini returned an unexpected response. Try again shortly."
	case models.KindInvalidRequest:
		return "The request was rejected. Check the message and try again."
	default:
		return ""
	}
}

// Client posts chat requests to the relay.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
}

type Option func(*Client)

// WithModel sets the model member sent with every request.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a client for the given chat endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint reports the URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ask sends a single prompt.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	return c.send(ctx, map[string]any{"prompt": prompt})
}

// Converse sends a whole transcript in the messages shape.
func (c *Client) Converse(ctx context.Context, history []models.Message) (string, error) {
	return c.send(ctx, map[string]any{"messages": history})
}

func (c *Client) send(ctx context.Context, payload map[string]any) (string, error) {
	if c.model != "" {
		payload["model"] = c.model
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &Error{
			Kind:    models.KindUnreachable,
			Message: "Could not reach the chat server",
			Details: err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", &Error{
			Kind:    models.KindUnreachable,
			Status:  resp.StatusCode,
			Message: "Failed to read the chat server response",
			Details: err.Error(),
		}
	}

	// The relay mirrors the upstream status, so a classified failure can
	// arrive with a 2xx code; the kind member marks it either way.
	if resp.StatusCode >= http.StatusBadRequest || hasErrorKind(body) {
		return "", decodeError(resp.StatusCode, body)
	}
	return translator.ExtractReply(body), nil
}

func hasErrorKind(body []byte) bool {
	var eb models.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	return eb.Kind != "" && eb.Error != ""
}

// decodeError reads the relay's structured error body. Bodies that do not
// carry a kind are reported as internal errors with the raw text attached.
func decodeError(status int, body []byte) *Error {
	var eb models.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return &Error{
			Kind:    models.KindInternalError,
			Status:  status,
			Message: fmt.Sprintf("Chat server returned %d %s", status, http.StatusText(status)),
			Details: strings.TrimSpace(string(body)),
		}
	}
	kind := eb.Kind
	if kind == "" {
		kind = models.KindInternalError
	}
	details := eb.Details
	if details == "" && eb.Raw != nil {
		details = *eb.Raw
	}
	return &Error{
		Kind:    kind,
		Status:  status,
		Message: eb.Error,
		Details: details,
	}
}
