package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	p := Exponential{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 8 * time.Second}
	require.Equal(t, 5*time.Second, p.Backoff(1))
	require.Equal(t, 8*time.Second, p.Backoff(2))

	uncapped := Exponential{MaxAttempts: 3, BaseDelay: 5 * time.Second}
	require.Equal(t, 10*time.Second, uncapped.Backoff(2))

	jittered := Exponential{BaseDelay: time.Second, Jitter: true}
	for i := 0; i < 20; i++ {
		d := jittered.Backoff(1)
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	onlyBoom := func(err error) bool { return errors.Is(err, errBoom) }
	p := Fixed{MaxAttempts: 3, Delay: time.Second, Retryable: onlyBoom}

	require.True(t, p.ShouldRetry(errBoom, 1))
	require.True(t, p.ShouldRetry(errBoom, 2))
	require.False(t, p.ShouldRetry(errBoom, 3))
	require.False(t, p.ShouldRetry(errors.New("other"), 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	calls := 0
	err := Do(context.Background(), Exponential{MaxAttempts: 3, BaseDelay: 5 * time.Second},
		func(_ context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("rate limited")
			}
			return nil
		}, WithSleep(sleep))

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
}

func TestDoReturnsLastError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	notified := 0
	err := Do(context.Background(), Fixed{MaxAttempts: 2},
		func(context.Context, int) error { return errBoom },
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithNotify(func(int, error, time.Duration) { notified++ }))

	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, notified)
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Fixed{MaxAttempts: 5, Delay: time.Hour},
		func(context.Context, int) error { return errors.New("boom") })
	require.ErrorIs(t, err, context.Canceled)
}
