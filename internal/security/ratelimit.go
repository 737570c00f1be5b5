package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/acolita/synology-mcp/internal/adapters/realclock"
	"github.com/acolita/synology-mcp/internal/ports"
)

// AuthRateLimiter tracks authentication failures per endpoint and account
// and enforces a lockout after repeated rejections.
type AuthRateLimiter struct {
	mu              sync.RWMutex
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
	clock           ports.Clock
}

type authFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// DefaultMaxAuthFailures is the default number of failures before lockout.
const DefaultMaxAuthFailures = 3

// DefaultAuthLockoutDuration is the default lockout duration.
const DefaultAuthLockoutDuration = 5 * time.Minute

// RateLimiterOption configures an AuthRateLimiter.
type RateLimiterOption func(*AuthRateLimiter)

// WithClock sets the clock used to measure lockouts.
func WithClock(clock ports.Clock) RateLimiterOption {
	return func(r *AuthRateLimiter) {
		r.clock = clock
	}
}

// NewAuthRateLimiter creates a new auth rate limiter.
func NewAuthRateLimiter(maxFailures int, lockoutDuration time.Duration, opts ...RateLimiterOption) *AuthRateLimiter {
	r := &AuthRateLimiter{
		failures: make(map[string]*authFailure),
		clock:    realclock.New(),
	}
	r.Configure(maxFailures, lockoutDuration)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure replaces the limits; existing failure counts are kept.
func (r *AuthRateLimiter) Configure(maxFailures int, lockoutDuration time.Duration) {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}
	r.mu.Lock()
	r.maxFailures = maxFailures
	r.lockoutDuration = lockoutDuration
	r.mu.Unlock()
}

func key(endpoint, user string) string {
	return fmt.Sprintf("%s@%s", user, endpoint)
}

// IsLocked checks if authentication is locked for the given endpoint/user
// and returns the remaining lockout time.
func (r *AuthRateLimiter) IsLocked(endpoint, user string) (bool, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.failures[key(endpoint, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}

	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}
	return true, r.lockoutDuration - elapsed
}

// RecordFailure records an authentication failure.
func (r *AuthRateLimiter) RecordFailure(endpoint, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := key(endpoint, user)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{firstFail: now}
		r.failures[k] = f
	}

	// Reset if lockout has expired
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		f.count = 0
		f.firstFail = now
		f.lockedAt = time.Time{}
	}

	f.count++
	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess records a successful authentication, resetting the failure count.
func (r *AuthRateLimiter) RecordSuccess(endpoint, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key(endpoint, user))
}

// Cleanup removes expired entries.
func (r *AuthRateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		// No recent activity (2x lockout duration)
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}
