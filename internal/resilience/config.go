package resilience

import (
	"time"
)

// FromConfig converts config values to a BackoffPolicy. Zero or negative
// values keep the defaults.
func FromConfig(maxAttempts, initialWaitMs, maxWaitMs, rateLimitWaitSecs int) BackoffPolicy {
	p := DefaultBackoffPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialWaitMs > 0 {
		p.InitialWait = time.Duration(initialWaitMs) * time.Millisecond
	}
	if maxWaitMs > 0 {
		p.MaxWait = time.Duration(maxWaitMs) * time.Millisecond
	}
	if rateLimitWaitSecs > 0 {
		p.RateLimitWait = time.Duration(rateLimitWaitSecs) * time.Second
	}
	return p
}
