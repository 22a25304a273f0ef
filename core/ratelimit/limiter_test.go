package ratelimit

import (
	"testing"
	"time"
)

// fixedClock lets tests drive refill arithmetic deterministically.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fixedClock) {
	l := New(cfg)
	clock := &fixedClock{t: time.Unix(1000, 0)}
	l.now = clock.now
	return l, clock
}

func TestLimiterBurstCapacity(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 3, RefillRate: 1})
	defer l.Close()

	denied := 0
	for i := 0; i < 4; i++ {
		ok, retry := l.Allow("10.0.0.1")
		if !ok {
			denied++
			if retry < time.Second {
				t.Errorf("retry hint = %v, want >= 1s", retry)
			}
		}
	}
	if denied != 1 {
		t.Errorf("capacity+1 requests: denied = %d, want exactly 1", denied)
	}
}

func TestLimiterRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{Capacity: 2, RefillRate: 1})
	defer l.Close()

	l.Allow("10.0.0.2")
	l.Allow("10.0.0.2")
	if ok, _ := l.Allow("10.0.0.2"); ok {
		t.Fatal("bucket should be empty")
	}

	// After one full refill interval the next request succeeds.
	clock.advance(time.Second)
	if ok, _ := l.Allow("10.0.0.2"); !ok {
		t.Error("expected an allow after refill")
	}
}

func TestLimiterClampedAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(Config{Capacity: 2, RefillRate: 10})
	defer l.Close()

	l.Allow("10.0.0.3") // create the bucket
	clock.advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("10.0.0.3"); ok {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d after long idle, want capacity (2)", allowed)
	}
}

func TestLimiterIsolatesClients(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 1, RefillRate: 0.001})
	defer l.Close()

	if ok, _ := l.Allow("10.0.0.4"); !ok {
		t.Fatal("first client's first request should pass")
	}
	if ok, _ := l.Allow("10.0.0.4"); ok {
		t.Fatal("first client should now be limited")
	}
	if ok, _ := l.Allow("10.0.0.5"); !ok {
		t.Error("second client must not share the first client's bucket")
	}
}

func TestLimiterSweepPrunesIdle(t *testing.T) {
	l, clock := newTestLimiter(Config{Capacity: 5, RefillRate: 1, IdleTTL: time.Minute})
	defer l.Close()

	l.Allow("10.0.0.6")
	l.Allow("10.0.0.7")
	if l.Len() != 2 {
		t.Fatalf("buckets = %d, want 2", l.Len())
	}

	clock.advance(2 * time.Minute)
	l.Allow("10.0.0.7") // keeps this one fresh

	l.sweep()
	if l.Len() != 1 {
		t.Errorf("buckets after sweep = %d, want 1", l.Len())
	}
}

func TestLimiterAllowIgnoresSweptBucket(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 2, RefillRate: 1})
	defer l.Close()

	l.Allow("10.0.0.8")
	l.Allow("10.0.0.8") // drained

	orphan, ok := l.buckets.Load("10.0.0.8")
	if !ok {
		t.Fatal("bucket must exist after Allow")
	}

	// Simulate the sweep winning the race between a request's table
	// lookup and its token withdrawal.
	orphan.mu.Lock()
	orphan.gone = true
	orphan.mu.Unlock()
	l.buckets.Delete("10.0.0.8")

	if admitted, _ := l.Allow("10.0.0.8"); !admitted {
		t.Fatal("request after the sweep must hit a fresh bucket")
	}
	if l.Len() != 1 {
		t.Errorf("buckets = %d, want 1", l.Len())
	}

	orphan.mu.Lock()
	tokens := orphan.tokens
	orphan.mu.Unlock()
	if tokens != 0 {
		t.Errorf("orphan tokens = %v, want 0 (withdrawal must not touch it)", tokens)
	}
}
