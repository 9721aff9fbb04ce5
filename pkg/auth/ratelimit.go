package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an authenticated caller may make another
// request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int

	// Burst is the number of requests allowed at once. Zero uses
	// RequestsPerMinute.
	Burst int
}

// idleAfter is how long an unused bucket is kept.
const idleAfter = 10 * time.Minute

// InProcessLimiter keeps a token bucket per subject and tier in memory.
// Buckets refill continuously at the tier's per-minute rate.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
	now     func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	used    time.Time
}

// NewInProcessLimiter creates a limiter. Tiers without an entry use
// defaultRPM; a rate of zero or less disables limiting for that tier.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow returns ErrTooManyRequests when the caller's bucket is empty.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}
	tc, ok := l.tiers[tier]
	if !ok {
		tc = TierConfig{RequestsPerMinute: l.defaultRPM}
	}
	if tc.RequestsPerMinute <= 0 {
		return nil
	}
	burst := tc.Burst
	if burst <= 0 {
		burst = tc.RequestsPerMinute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	key := identity.Subject + ":" + tier
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(tc.RequestsPerMinute)), burst)}
		l.buckets[key] = b
	}
	b.used = now

	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets at most once per idle period.
func (l *InProcessLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < idleAfter {
		return
	}
	l.swept = now
	for key, b := range l.buckets {
		if now.Sub(b.used) >= idleAfter {
			delete(l.buckets, key)
		}
	}
}
