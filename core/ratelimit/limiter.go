// Package ratelimit provides token-bucket admission control keyed by
// client IP. Refill is lazy at lookup time, so the limiter needs no
// background timer of its own; a periodic sweep prunes buckets unseen
// past an idle TTL to bound memory under high client churn.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Config holds the limiter parameters loaded once at startup.
type Config struct {
	// Capacity is the burst size: the maximum tokens a bucket holds.
	Capacity float64
	// RefillRate is tokens added per second of elapsed time.
	RefillRate float64
	// IdleTTL prunes buckets unseen for this long. Zero disables the
	// sweep.
	IdleTTL time.Duration
	// SweepInterval overrides how often the sweep runs; defaults to
	// IdleTTL when zero.
	SweepInterval time.Duration
}

// bucket is the per-client state. The mutex is held only for the refill
// arithmetic, never across I/O.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time
	lastSeen time.Time
	// gone marks a bucket the sweep removed from the table; a lookup
	// that raced the sweep must not withdraw from it.
	gone bool
}

// Limiter is shared by all connection tasks. The bucket table is an
// internally sharded concurrent map, so admission checks from many
// connections do not contend on one global lock.
type Limiter struct {
	cfg     Config
	buckets *xsync.MapOf[string, *bucket]

	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time // test hook
}

// New creates a limiter and starts its idle sweep when IdleTTL is set.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: xsync.NewMapOf[string, *bucket](),
		stop:    make(chan struct{}),
		now:     time.Now,
	}

	if cfg.IdleTTL > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = cfg.IdleTTL
		}
		go l.sweepLoop(interval)
	}
	return l
}

// Allow attempts to withdraw one token for the client. On denial it
// returns the wait until one token will be available, suitable for a
// Retry-After hint.
func (l *Limiter) Allow(clientIP string) (bool, time.Duration) {
	now := l.now()

	for {
		b, _ := l.buckets.LoadOrCompute(clientIP, func() *bucket {
			return &bucket{tokens: l.cfg.Capacity, refilled: now, lastSeen: now}
		})

		b.mu.Lock()
		if b.gone {
			// The sweep removed this bucket between lookup and lock;
			// retry against the table, never the orphan.
			b.mu.Unlock()
			continue
		}

		elapsed := now.Sub(b.refilled).Seconds()
		if elapsed > 0 {
			b.tokens += elapsed * l.cfg.RefillRate
			if b.tokens > l.cfg.Capacity {
				b.tokens = l.cfg.Capacity
			}
			b.refilled = now
		}
		b.lastSeen = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return true, 0
		}

		need := (1 - b.tokens) / l.cfg.RefillRate
		b.mu.Unlock()
		return false, time.Duration(math.Ceil(need)) * time.Second
	}
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	return l.buckets.Size()
}

// Close stops the sweep goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes buckets idle past the TTL. The idle check and the
// delete run atomically under the table's per-key lock, with lastSeen
// re-read under the bucket mutex, so a bucket touched by a concurrent
// Allow is never swept.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	l.buckets.Range(func(key string, _ *bucket) bool {
		l.buckets.Compute(key, func(b *bucket, loaded bool) (*bucket, bool) {
			if !loaded {
				return nil, true
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.lastSeen.Before(cutoff) {
				b.gone = true
				return nil, true
			}
			return b, false
		})
		return true
	})
}
