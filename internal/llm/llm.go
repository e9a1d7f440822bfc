// Package llm defines the provider-neutral completion client used by the
// analyzers, plus error classification and JSON decoding helpers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidAPIKey marks authentication failures. They are never retried.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrEmptyResponse is returned when a provider answers without content.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Request is a single-turn chat completion.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Client completes prompts against a hosted model.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	ValidateKey(ctx context.Context) error
	Name() string
}

// APIError is a non-success response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrInvalidAPIKey) match authentication failures.
func (e *APIError) Is(target error) bool {
	if target != ErrInvalidAPIKey {
		return false
	}
	return e.StatusCode == http.StatusUnauthorized ||
		strings.Contains(strings.ToLower(e.Message), "invalid api key")
}

// IsRateLimit reports whether err is an HTTP 429 or mentions a rate limit.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// IsInvalidKey reports whether err is an authentication failure.
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidAPIKey)
}

// DecodeJSON unmarshals a model reply, tolerating a surrounding ```json fence.
func DecodeJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}
