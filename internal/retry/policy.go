// Package retry provides retry policies and a context-aware retry loop.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Policy decides whether and when to retry a failed attempt. Attempts are 1-based.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Fixed retries with a constant delay.
type Fixed struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// ShouldRetry implements Policy.
func (p Fixed) ShouldRetry(err error, attempt int) bool {
	return retryable(err, attempt, p.MaxAttempts, p.Retryable)
}

// Backoff implements Policy.
func (p Fixed) Backoff(int) time.Duration {
	return p.Delay
}

// Exponential doubles the delay after every failed attempt: base * 2^(attempt-1).
type Exponential struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

// ShouldRetry implements Policy.
func (p Exponential) ShouldRetry(err error, attempt int) bool {
	return retryable(err, attempt, p.MaxAttempts, p.Retryable)
}

// Backoff implements Policy.
func (p Exponential) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay/2))
}

func retryable(err error, attempt, maxAttempts int, fn func(error) bool) bool {
	if err == nil || attempt >= maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if fn != nil {
		return fn(err)
	}
	return true
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
