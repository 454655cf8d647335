package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an idle per-IP limiter survives before the
	// cleanup loop drops it.
	limiterIdleTTL = 10 * time.Minute

	defaultCleanupInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-identifier token-bucket rate limiting. Entries are
// created lazily per identifier (normally a client IP) and evicted after an
// idle period to bound memory.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry

	rate   rate.Limit
	burst  int
	logger *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond with the
// given burst per identifier. A background loop reaps idle entries.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		entries:     make(map[string]*limiterEntry),
		rate:        rate.Limit(requestsPerSecond),
		burst:       burst,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(defaultCleanupInterval)

	return rl
}

// Allow reports whether a request from identifier is within its budget.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[identifier]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.entries[identifier] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop terminates the cleanup loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-limiterIdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, id)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("Cleaned up idle rate limiters", "removed", removed, "remaining", len(rl.entries))
	}
}
