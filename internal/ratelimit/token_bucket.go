// Package ratelimit throttles inbound control messages.
package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is 1e9 nano-tokens, so a rate of r tokens/sec refills r
// nano-tokens per elapsed nanosecond and no float rounding is involved.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket starts full and refills at a fixed integer rate.
type TokenBucket struct {
	clock Clock

	mu       sync.Mutex
	capacity int64 // nano-tokens
	rate     int64 // tokens/sec
	avail    int64 // nano-tokens
	last     time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     max(tokensPerSecond, 0),
		avail:    capacity,
		last:     clock.Now(),
	}
}

// PerSecond is a bucket whose burst equals one second of its rate.
func PerSecond(clock Clock, tokensPerSecond int) *TokenBucket {
	return NewTokenBucket(clock, int64(tokensPerSecond), int64(tokensPerSecond))
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock that went backwards only moves the reference point.
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}
	missing := b.capacity - b.avail
	if elapsed >= missing/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
