package ratelimit

import (
	"math"
	"sync"
	"time"
)

// nanosPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// rate of R tokens/sec adds exactly R nano-tokens per elapsed nanosecond.
const nanosPerToken = int64(time.Second)

// TokenBucket limits how many messages a connection may send. It holds up to
// burst tokens and refills at perSecond tokens per second of Clock time.
type TokenBucket struct {
	clock     Clock
	burst     int64
	perSecond int64

	mu      sync.Mutex
	nanos   int64 // available, in nano-tokens
	updated time.Time
}

// NewTokenBucket returns a full bucket. Negative arguments are treated as 0.
func NewTokenBucket(clock Clock, burst, perSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	burst = max(burst, 0)
	perSecond = max(perSecond, 0)
	return &TokenBucket{
		clock:     clock,
		burst:     burst,
		perSecond: perSecond,
		nanos:     toNanos(burst),
		updated:   clock.Now(),
	}
}

// AllowMessage consumes one token.
func (b *TokenBucket) AllowMessage() bool { return b.Allow(1) }

// Allow consumes n tokens when that many are available. n <= 0 always
// succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNanos(n)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	if b.nanos < cost {
		return false
	}
	b.nanos -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.nanos / nanosPerToken
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.updated).Nanoseconds()
	// A clock that moves backwards only resets the reference point.
	b.updated = now
	if elapsed <= 0 || b.perSecond == 0 {
		return
	}

	full := toNanos(b.burst)
	missing := full - b.nanos
	if missing <= 0 {
		b.nanos = full
		return
	}
	// Compare against the time needed to refill rather than multiplying, so
	// elapsed*perSecond cannot overflow.
	if elapsed >= missing/b.perSecond+1 {
		b.nanos = full
		return
	}
	b.nanos = min(b.nanos+elapsed*b.perSecond, full)
}

func toNanos(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > math.MaxInt64/nanosPerToken {
		return math.MaxInt64
	}
	return tokens * nanosPerToken
}
