package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestWaitSpacesRequestsPerDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://acme.example/pricing"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.acme.example/blog"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://globex.example/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://acme.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://acme.example"))
}

func TestDisabledIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://acme.example"))
	}
	require.Equal(t, rate.Inf, l.Rate("https://acme.example"))
}

func TestObserveBacksOff(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 4, DefaultBurst: 1})
	u := "https://acme.example/a"

	l.Observe(u, http.StatusOK)
	require.Equal(t, rate.Limit(4), l.Rate(u))

	l.Observe(u, http.StatusTooManyRequests)
	require.Equal(t, rate.Limit(2), l.Rate(u))

	for range 10 {
		l.Observe(u, http.StatusServiceUnavailable)
	}
	require.Equal(t, minBackoffRate, l.Rate(u))

	open := New(Config{})
	open.Observe(u, http.StatusTooManyRequests)
	require.Equal(t, rate.Limit(1), open.Rate(u))
}

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme.example", Domain("https://WWW.Acme.example:8443/x"))
	require.Equal(t, "unknown", Domain("::"))
	require.Equal(t, "unknown", Domain("/relative"))
}
