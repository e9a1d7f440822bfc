package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 3})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	require.NotNil(t, f.tabs)
	require.Equal(t, defaultNavTimeout, f.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, f.cfg.Settle)

	unbounded, err := NewChromedp(Config{Settle: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	require.Nil(t, unbounded.tabs)
	require.Equal(t, 10*time.Millisecond, unbounded.cfg.Settle)
	require.NoError(t, unbounded.acquire(context.Background()))
	unbounded.release()
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{tabs: semaphore.NewWeighted(1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.acquire(ctx), context.Canceled)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestExtraHeaders(t *testing.T) {
	t.Parallel()

	h := extraHeaders(http.Header{
		"Accept-Language": {"en-US"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         nil,
	})
	require.Equal(t, "en-US", h["Accept-Language"])
	require.Equal(t, []string{"a", "b"}, h["X-Multi"])
	require.NotContains(t, h, "X-Empty")
}

func TestDocumentResponseIgnoresSubresources(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://acme.example/pricing",
			Headers: network.Headers{"Content-Type": "text/html", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	doc.observe("not an event")

	status, headers, url := doc.result("https://req", "https://final")
	require.Equal(t, 203, status)
	require.Equal(t, "https://acme.example/pricing", url)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Len(t, headers.Values("Set-Cookie"), 2)
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentResponse{}).result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = (&documentResponse{}).result("https://req", "")
	require.Equal(t, "https://req", url)
}
