package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	loginRateLimitedMessage        = "too many failed login attempts; try again later"
	registrationRateLimitedMessage = "too many requests; try again later"

	// sweepThreshold bounds limiter maps; stale records are swept on write
	// once this many keys are tracked.
	sweepThreshold = 10000
)

// backoffPolicy locks a key out with exponential backoff once it has
// accumulated maxFailures recorded failures.
type backoffPolicy struct {
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
}

// windowPolicy locks everyone out once maxEvents occur inside window.
type windowPolicy struct {
	window    time.Duration
	maxEvents int
	lockout   time.Duration
}

var (
	// loginPolicy applies per username.
	loginPolicy = backoffPolicy{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
	// ipPolicy applies per client IP across usernames.
	ipPolicy                 = backoffPolicy{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute, expiry: time.Hour}
	globalLoginPolicy        = windowPolicy{window: time.Minute, maxEvents: 100, lockout: 5 * time.Minute}
	registrationIPPolicy     = backoffPolicy{maxFailures: 5, baseLockout: 5 * time.Minute, maxLockout: time.Hour, expiry: time.Hour}
	globalRegistrationPolicy = windowPolicy{window: time.Minute, maxEvents: 50, lockout: 5 * time.Minute}
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// backoffLimiter tracks failures per key. Keys are normalized usernames or
// client IPs, never secrets.
type backoffLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	now      func() time.Time
	attempts map[string]*attemptRecord
}

func newBackoffLimiter(policy backoffPolicy) *backoffLimiter {
	return &backoffLimiter{
		policy:   policy,
		now:      time.Now,
		attempts: make(map[string]*attemptRecord),
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure counts a failure and applies backoff once the threshold is
// reached: baseLockout * 2^(failures - maxFailures), capped at maxLockout.
func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.attempts) >= sweepThreshold {
		rl.sweepLocked(now)
	}
	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.policy.maxFailures {
		lockout := rl.policy.baseLockout
		for i := rl.policy.maxFailures; i < rec.failures; i++ {
			lockout *= 2
			if lockout >= rl.policy.maxLockout {
				lockout = rl.policy.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess clears key.
func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

func (rl *backoffLimiter) sweepLocked(now time.Time) {
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter counts events across all callers in a sliding window.
type windowLimiter struct {
	mu          sync.Mutex
	policy      windowPolicy
	now         func() time.Time
	events      []time.Time
	lockedUntil time.Time
}

func newWindowLimiter(policy windowPolicy) *windowLimiter {
	return &windowLimiter{policy: policy, now: time.Now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = trimWindow(append(rl.events, now), now, rl.policy.window)
	if len(rl.events) >= rl.policy.maxEvents {
		rl.lockedUntil = now.Add(rl.policy.lockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
