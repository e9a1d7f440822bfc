package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/retry"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	rateLimited := fmt.Errorf("call: %w", &APIError{Provider: "groq", StatusCode: http.StatusTooManyRequests, Message: "slow down"})
	require.True(t, IsRateLimit(rateLimited))
	require.False(t, IsInvalidKey(rateLimited))

	require.True(t, IsRateLimit(errors.New("Rate limit exceeded for model")))

	unauthorized := &APIError{Provider: "groq", StatusCode: http.StatusUnauthorized}
	require.True(t, IsInvalidKey(unauthorized))
	require.True(t, IsInvalidKey(&APIError{StatusCode: http.StatusBadRequest, Message: "Invalid API Key provided"}))
	require.False(t, IsInvalidKey(&APIError{StatusCode: http.StatusBadRequest, Message: "bad json"}))
	require.False(t, IsRateLimit(nil))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var out struct {
		Level int `json:"interest_level"`
	}
	require.NoError(t, DecodeJSON(`{"interest_level": 7}`, &out))
	require.Equal(t, 7, out.Level)

	require.NoError(t, DecodeJSON("```json\n{\"interest_level\": 3}\n```", &out))
	require.Equal(t, 3, out.Level)

	require.ErrorIs(t, DecodeJSON("  ", &out), ErrEmptyResponse)
	require.Error(t, DecodeJSON("not json", &out))
}

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(context.Context, Request) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return `{"ok":true}`, nil
}

func (s *scriptedClient) ValidateKey(context.Context) error { return nil }

func (s *scriptedClient) Name() string { return "scripted" }

func noSleep(waits *[]time.Duration) retry.Option {
	return retry.WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestRetryingBacksOffOnRateLimit(t *testing.T) {
	t.Parallel()

	limited := &APIError{Provider: "scripted", StatusCode: http.StatusTooManyRequests}
	inner := &scriptedClient{errs: []error{limited, limited}}
	var waits []time.Duration
	client := NewRetrying(inner, 3, 5*time.Second, time.Minute, nil, noSleep(&waits))

	out, err := client.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, out)
	require.Equal(t, 3, inner.calls)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
	require.Equal(t, "scripted", client.Name())
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	limited := &APIError{StatusCode: http.StatusTooManyRequests}
	inner := &scriptedClient{errs: []error{limited, limited, limited, limited}}
	var waits []time.Duration
	_, err := NewRetrying(inner, 3, time.Second, 0, nil, noSleep(&waits)).Complete(context.Background(), Request{})
	require.True(t, IsRateLimit(err))
	require.Equal(t, 3, inner.calls)
	require.Len(t, waits, 2)
}

func TestRetryingDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	for _, failure := range []error{
		&APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid API Key"},
		errors.New("connection reset"),
	} {
		inner := &scriptedClient{errs: []error{failure}}
		var waits []time.Duration
		_, err := NewRetrying(inner, 3, time.Second, 0, nil, noSleep(&waits)).Complete(context.Background(), Request{})
		require.ErrorIs(t, err, failure)
		require.Equal(t, 1, inner.calls)
		require.Empty(t, waits)
	}
}
