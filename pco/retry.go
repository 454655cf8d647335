package pco

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts is the total number of attempts (initial call plus
	// retries) made against a rate-limited endpoint before the last 429 is
	// handed back to the caller.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is used when a 429 carries no usable Retry-After
	// header.
	DefaultRetryDelay = 1 * time.Second
)

// errRateLimited signals the retry loop that the last response was a 429 and
// another attempt is allowed. It never escapes Get.
var errRateLimited = errors.New("upstream rate limited")

// RetryPolicy bounds the 429 retry behavior of the client. The delay comes
// from the Retry-After response header, flat, with no jitter and no
// exponential growth. Timer is injectable so tests never really sleep.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling. Values below 1 mean a
	// single attempt with no retry.
	MaxAttempts int

	// DefaultDelay applies when Retry-After is absent or unparsable.
	DefaultDelay time.Duration

	// Timer overrides the wall-clock timer used between attempts.
	// Nil uses the real timer.
	Timer backoff.Timer
}

// DefaultRetryPolicy returns the stock policy: 3 attempts, 1 second fallback
// delay, real sleeps.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		DefaultDelay: DefaultRetryDelay,
	}
}

// retryAfterBackOff is a backoff.BackOff whose next delay is whatever the last
// 429 response asked for.
type retryAfterBackOff struct {
	delay        time.Duration
	defaultDelay time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.delay <= 0 {
		return b.defaultDelay
	}
	return b.delay
}

func (b *retryAfterBackOff) Reset() {}

// retryAfterDelay reads the Retry-After header as a whole number of seconds.
// Anything else falls back to the default delay.
func retryAfterDelay(header http.Header, fallback time.Duration) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
