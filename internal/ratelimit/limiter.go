package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Unlimited is the bucket level used when no byte-rate cap is configured.
const Unlimited int64 = math.MaxInt64

const DefaultInterval = time.Second

// RateLimiter replenishes a TokenBucket on a fixed cadence. With a cap it
// adds MaxBytesPerSecond each tick and lets unused allowance carry over (soft
// limiting); without one it keeps the bucket at Unlimited.
type RateLimiter struct {
	bucket            *TokenBucket
	maxBytesPerSecond int64
	interval          time.Duration
}

func NewRateLimiter(bucket *TokenBucket, maxBytesPerSecond int64) *RateLimiter {
	return &RateLimiter{
		bucket:            bucket,
		maxBytesPerSecond: maxBytesPerSecond,
		interval:          DefaultInterval,
	}
}

// WithInterval changes the replenishment cadence; the per-tick amount is
// scaled so the nominal rate stays MaxBytesPerSecond.
func (r *RateLimiter) WithInterval(d time.Duration) *RateLimiter {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *RateLimiter) perTick() int64 {
	n := int64(float64(r.maxBytesPerSecond) * r.interval.Seconds())
	return max(n, 1)
}

// Run blocks until the bucket is terminated or ctx ends.
func (r *RateLimiter) Run(ctx context.Context) error {
	log.Debug().Str("op", "ratelimit/limiter").Int64("maxBps", r.maxBytesPerSecond).Dur("interval", r.interval).Msg("Rate limiter started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for !r.bucket.Terminated() {
		r.replenish()
		select {
		case <-ticker.C:
		case <-r.bucket.Done():
		case <-ctx.Done():
			log.Debug().Str("op", "ratelimit/limiter").Msg("Rate limiter interrupted")
			return nil
		}
	}
	log.Debug().Str("op", "ratelimit/limiter").Msg("Rate limiter stopped")
	return nil
}

func (r *RateLimiter) replenish() {
	if r.maxBytesPerSecond <= 0 {
		r.bucket.Set(Unlimited)
		return
	}
	r.bucket.Add(r.perTick())
}
