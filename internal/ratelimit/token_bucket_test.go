package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	if !b.Allow(5) {
		t.Fatalf("initial burst rejected")
	}
	if b.Allow(1) {
		t.Fatalf("empty bucket allowed a token")
	}

	clk.Advance(200 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("no refill after 200ms at 5/s")
	}
	if b.Allow(1) {
		t.Fatalf("refilled more than elapsed time allows")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token rejected")
	}
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("no refill")
	}
	if b.Allow(1) {
		t.Fatalf("refill exceeded capacity")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := PerSecond(clk, 2)
	if !b.Allow(2) {
		t.Fatalf("initial burst rejected")
	}
	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("backwards clock refilled the bucket")
	}
	clk.Advance(500 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("no refill after clock recovered")
	}
}

func TestTokenBucket_NonPositive(t *testing.T) {
	b := NewTokenBucket(&fakeClock{}, 0, 0)
	if !b.Allow(0) {
		t.Fatalf("zero cost rejected")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket allowed a token")
	}
}
