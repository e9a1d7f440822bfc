package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))

		var body map[string]any
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		assert.Equal(t, "llama-3.3-70b-versatile", body["model"])
		assert.InDelta(t, 0.1, body["temperature"], 0.0001)
		assert.EqualValues(t, 4000, body["max_tokens"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		msgs, _ := body["messages"].([]any)
		if assert.Len(t, msgs, 2) {
			assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		}

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c := New("gsk-test", srv.URL, time.Second, nil)
	out, err := c.Complete(context.Background(), llm.Request{
		System:      "sys",
		Prompt:      "hello",
		Model:       "llama-3.3-70b-versatile",
		Temperature: 0.1,
		MaxTokens:   4000,
		JSON:        true,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, out)
	require.Equal(t, "groq", c.Name())
}

func TestCompleteClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
		invalidKey  bool
	}{
		{name: "rate limit", status: http.StatusTooManyRequests, body: `{"error":{"message":"Rate limit reached"}}`, rateLimited: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"Invalid API Key"}}`, invalidKey: true},
		{name: "server error", status: http.StatusBadGateway, body: `upstream`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			_, err := New("k", srv.URL, time.Second, nil).Complete(context.Background(), llm.Request{Prompt: "x"})
			require.Error(t, err)
			var apiErr *llm.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.rateLimited, llm.IsRateLimit(err))
			require.Equal(t, tt.invalidKey, llm.IsInvalidKey(err))
		})
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := New("k", srv.URL, time.Second, nil).Complete(context.Background(), llm.Request{Prompt: "x"})
	require.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"llama-3.3-70b-versatile"}]}`))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, New("good", srv.URL, time.Second, nil).ValidateKey(context.Background()))
	require.ErrorIs(t, New("bad", srv.URL, time.Second, nil).ValidateKey(context.Background()), llm.ErrInvalidAPIKey)
	require.ErrorIs(t, New("", srv.URL, time.Second, nil).ValidateKey(context.Background()), llm.ErrInvalidAPIKey)
}
