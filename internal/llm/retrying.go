package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/retry"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

// Retrying wraps a Client and retries rate-limited calls with exponential backoff.
type Retrying struct {
	next   Client
	policy retry.Policy
	logger *zap.Logger
	opts   []retry.Option
}

// NewRetrying builds a Retrying client. Delays are base*2^(attempt-1), capped at maxDelay.
func NewRetrying(next Client, maxAttempts int, base, maxDelay time.Duration, logger *zap.Logger, opts ...retry.Option) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{
		next: next,
		policy: retry.Exponential{
			MaxAttempts: maxAttempts,
			BaseDelay:   base,
			MaxDelay:    maxDelay,
			Retryable:   func(err error) bool { return IsRateLimit(err) && !IsInvalidKey(err) },
		},
		logger: logger.Named("llm"),
		opts:   opts,
	}
}

// Name implements Client.
func (r *Retrying) Name() string {
	return r.next.Name()
}

// ValidateKey implements Client.
func (r *Retrying) ValidateKey(ctx context.Context) error {
	return r.next.ValidateKey(ctx)
}

// Complete implements Client.
func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	provider := r.next.Name()
	notify := retry.WithNotify(func(attempt int, err error, wait time.Duration) {
		telemetry.ObserveLLMRetry(provider)
		r.logger.Warn("rate limited, backing off",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	var out string
	start := time.Now()
	err := retry.Do(ctx, r.policy, func(ctx context.Context, _ int) error {
		resp, err := r.next.Complete(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, append([]retry.Option{notify}, r.opts...)...)

	outcome := "ok"
	switch {
	case err == nil:
	case IsInvalidKey(err):
		outcome = "unauthorized"
	case IsRateLimit(err):
		outcome = "rate_limited"
	default:
		outcome = "error"
	}
	telemetry.ObserveLLMRequest(provider, outcome, time.Since(start))
	return out, err
}
