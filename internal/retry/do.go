package retry

import (
	"context"
	"fmt"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes Do.
type Option func(*options)

type options struct {
	sleep  SleepFunc
	notify func(attempt int, err error, wait time.Duration)
}

// WithSleep replaces the timer-based wait, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// Do runs fn until it succeeds, the policy gives up, or ctx is done.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error, opts ...Option) error {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return err
		}
		wait := policy.Backoff(attempt)
		if o.notify != nil {
			o.notify(attempt, err, wait)
		}
		if serr := o.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%w (last attempt: %w)", serr, err)
		}
	}
}

// Sleep blocks for d unless ctx is canceled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
