package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBackoffLimiter(policy backoffPolicy) (*backoffLimiter, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := newBackoffLimiter(policy)
	rl.now = clock.now
	return rl, clock
}

func TestBackoffLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginPolicy)
	for range loginPolicy.maxFailures - 1 {
		rl.recordFailure("alice")
		blocked, _ := rl.check("alice")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestBackoffLimiter_BlocksAfterThreshold(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginPolicy)
	for range loginPolicy.maxFailures {
		rl.recordFailure("alice")
	}
	blocked, retryAfter := rl.check("alice")
	require.True(t, blocked)
	assert.Equal(t, loginPolicy.baseLockout, retryAfter)
}

func TestBackoffLimiter_ExponentialBackoffIsCapped(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginPolicy)
	for range loginPolicy.maxFailures + 1 {
		rl.recordFailure("alice")
	}
	_, retryAfter := rl.check("alice")
	assert.Equal(t, 2*loginPolicy.baseLockout, retryAfter)

	for range 20 {
		rl.recordFailure("alice")
	}
	_, retryAfter = rl.check("alice")
	assert.Equal(t, loginPolicy.maxLockout, retryAfter)
}

func TestBackoffLimiter_LockoutElapses(t *testing.T) {
	rl, clock := newTestBackoffLimiter(loginPolicy)
	for range loginPolicy.maxFailures {
		rl.recordFailure("alice")
	}
	clock.advance(loginPolicy.baseLockout)
	blocked, _ := rl.check("alice")
	assert.False(t, blocked)
}

func TestBackoffLimiter_SuccessResets(t *testing.T) {
	rl, _ := newTestBackoffLimiter(loginPolicy)
	for range loginPolicy.maxFailures {
		rl.recordFailure("alice")
	}
	rl.recordSuccess("alice")
	blocked, _ := rl.check("alice")
	assert.False(t, blocked, "should not block after successful login")
}

func TestBackoffLimiter_IsolatesKeys(t *testing.T) {
	rl, _ := newTestBackoffLimiter(ipPolicy)
	for range ipPolicy.maxFailures {
		rl.recordFailure("192.0.2.1")
	}
	blocked, _ := rl.check("192.0.2.1")
	require.True(t, blocked)
	blocked, _ = rl.check("192.0.2.2")
	assert.False(t, blocked)
}

func TestBackoffLimiter_StaleRecordsExpire(t *testing.T) {
	rl, clock := newTestBackoffLimiter(loginPolicy)
	rl.recordFailure("alice")
	clock.advance(loginPolicy.expiry + time.Second)

	blocked, _ := rl.check("alice")
	assert.False(t, blocked)
	assert.Empty(t, rl.attempts)
}

func TestWindowLimiter(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := newWindowLimiter(windowPolicy{window: time.Minute, maxEvents: 3, lockout: 5 * time.Minute})
	rl.now = clock.now

	rl.recordFailure()
	rl.recordFailure()
	clock.advance(2 * time.Minute)
	rl.recordFailure()
	blocked, _ := rl.check()
	assert.False(t, blocked, "failures outside the window do not count")

	rl.recordFailure()
	rl.recordFailure()
	blocked, retryAfter := rl.check()
	require.True(t, blocked)
	assert.Equal(t, 5*time.Minute, retryAfter)

	clock.advance(5 * time.Minute)
	blocked, _ = rl.check()
	assert.False(t, blocked)
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 1500*time.Millisecond, loginRateLimitedMessage)
	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), loginRateLimitedMessage)

	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}
