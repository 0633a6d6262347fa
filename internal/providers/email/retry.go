package email

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the relay answered without confirming the
// hand-off.
var ErrNotConfirmed = errors.New("email: delivery not confirmed")

// RetryingProvider retries a failed Send with exponential backoff, up to
// MaxAttempts tries in total.
type RetryingProvider struct {
	next            Provider
	log             *zap.Logger
	maxAttempts     uint
	initialInterval time.Duration
}

func NewRetryingProvider(next Provider, log *zap.Logger, maxAttempts int, initialInterval time.Duration) *RetryingProvider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return &RetryingProvider{
		next:            next,
		log:             log.Named("email.retry"),
		maxAttempts:     uint(maxAttempts),
		initialInterval: initialInterval,
	}
}

func (p *RetryingProvider) Send(ctx context.Context, msg Message) (Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialInterval
	policy.Multiplier = 2

	attempt := 0
	operation := func() (Result, error) {
		attempt++
		res, err := p.next.Send(ctx, msg)
		if errors.Is(err, ErrNotConfigured) {
			return Result{}, backoff.Permanent(err)
		}
		if err != nil {
			return Result{}, err
		}
		if !res.Success {
			return Result{}, ErrNotConfirmed
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(p.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.log.Warn("email attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
