package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// BackoffPolicy controls how a single upstream request is retried.
type BackoffPolicy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// Default: 3.
	MaxAttempts int

	// InitialWait is the base delay before the first backoff retry. Default: 1s.
	InitialWait time.Duration

	// MaxWait caps each individual backoff sleep. Default: 30s.
	MaxWait time.Duration

	// Multiplier scales the wait after each backoff retry. Default: 2.0.
	Multiplier float64

	// JitterFraction bounds the random jitter added on top of the current
	// wait: the jitter is drawn uniformly from [0, JitterFraction*wait].
	// Default: 0.5.
	JitterFraction float64

	// RateLimitWait is the fixed cooldown after a rate-limited response. It
	// does not grow the backoff wait. Default: 60s.
	RateLimitWait time.Duration

	// Sleep blocks for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a value in [0, 1). Nil uses math/rand/v2.
	Jitter func() float64

	// OnRetry is called before each sleep with the attempt number, the
	// classification of the failure and the chosen delay.
	OnRetry func(attempt int, class Class, delay time.Duration, err error)
}

// DefaultBackoffPolicy returns the policy used for Places API requests.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:    3,
		InitialWait:    1 * time.Second,
		MaxWait:        30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
		RateLimitWait:  60 * time.Second,
	}
}

// DoVal executes fn until it succeeds, the failure is not retryable, the
// attempts run out, or ctx is cancelled.
//
// Rate-limited failures sleep for RateLimitWait and retry without growing the
// wait. Retryable failures sleep for min(wait+jitter, MaxWait) and double the
// wait. Fatal and permanent failures return immediately. When attempts are
// exhausted the last error is returned inside an *ExhaustedError.
func DoVal[T any](ctx context.Context, p BackoffPolicy, classify func(error) Class, fn func(ctx context.Context) (T, error)) (T, error) {
	p = applyDefaults(p)
	if classify == nil {
		classify = Classify
	}

	var zero T
	var lastErr error
	wait := p.InitialWait

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		class := classify(err)
		var delay time.Duration
		switch class {
		case ClassRateLimited:
			delay = p.RateLimitWait
		case ClassRetryable:
			delay = p.delay(wait)
			wait = time.Duration(float64(wait) * p.Multiplier)
		default:
			return zero, err
		}

		// Don't sleep after the last attempt.
		if attempt >= p.MaxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, class, delay, err)
		}

		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

func applyDefaults(p BackoffPolicy) BackoffPolicy {
	d := DefaultBackoffPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialWait <= 0 {
		p.InitialWait = d.InitialWait
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.RateLimitWait <= 0 {
		p.RateLimitWait = d.RateLimitWait
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = rand.Float64
	}
	return p
}

// delay returns wait plus jitter in [0, JitterFraction*wait], capped at MaxWait.
func (p BackoffPolicy) delay(wait time.Duration) time.Duration {
	d := float64(wait) + p.Jitter()*p.JitterFraction*float64(wait)
	if d > float64(p.MaxWait) {
		d = float64(p.MaxWait)
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, Class, time.Duration, error) {
	return func(attempt int, class Class, delay time.Duration, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", class.String()),
			zap.Duration("wait", delay),
			zap.Error(err),
		)
	}
}
