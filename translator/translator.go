// CLAUDE:SUMMARY translate_batch contract: request/response types, failure sentinels, rate-limit error, and the Router-backed client.
// Package translator is the translation collaborator of the viewtrans
// pipeline: the translate_batch wire contract, a client that sends it over
// a connectivity router, and the Service that answers it.
package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ActionTranslateBatch is the action of every translate request, and the
// default connectivity service name.
const ActionTranslateBatch = "translate_batch"

// FailureMarker prefixes every error-sentinel string in a Map.
const FailureMarker = "[translation failed]"

// Failure builds the sentinel for a text that could not be translated.
func Failure(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return FailureMarker
	}
	return FailureMarker + " " + reason
}

// IsFailure reports whether s is an error sentinel.
func IsFailure(s string) bool {
	return strings.HasPrefix(s, FailureMarker)
}

// Request is the translate_batch payload. Texts may contain duplicates.
type Request struct {
	Action string   `json:"action"`
	Texts  []string `json:"texts"`
}

// Map maps each source text to its translation or to a failure sentinel.
type Map map[string]string

// ErrRateLimited is matched by errors.Is on every RateLimitError.
var ErrRateLimited = errors.New("translator: rate limited")

// RateLimitError is returned by a Provider that hit a rate limit or quota.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	msg := "translator: rate limited"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Caller sends a payload to a named service. *connectivity.Router
// implements it.
type Caller interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Client sends translate_batch requests through a Caller.
type Client struct {
	caller  Caller
	service string
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithService overrides the service name. Default: ActionTranslateBatch.
func WithService(name string) ClientOption {
	return func(c *Client) { c.service = name }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client over caller.
func NewClient(caller Caller, opts ...ClientOption) *Client {
	c := &Client{caller: caller, service: ActionTranslateBatch, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TranslateBatch sends texts in one request. An error means the request did
// not complete (transport failure); per-text failures come back as
// sentinels inside the Map.
func (c *Client) TranslateBatch(ctx context.Context, texts []string) (Map, error) {
	payload, err := json.Marshal(Request{Action: ActionTranslateBatch, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("translator: marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.caller.Call(ctx, c.service, payload)
	if err != nil {
		return nil, fmt.Errorf("translator: call %s: %w", c.service, err)
	}

	var m Map
	if err := json.Unmarshal(resp, &m); err != nil {
		return nil, fmt.Errorf("translator: decode response: %w", err)
	}
	c.logger.Debug("translator: batch translated",
		"texts", len(texts), "entries", len(m), "duration", time.Since(start))
	return m, nil
}
