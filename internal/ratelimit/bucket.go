// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package ratelimit bounds the outbound request rate to one upstream with a
// token bucket. The bucket never blocks: callers either get a token or a
// retry-after estimate to surface to their own caller.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a non-blocking token bucket. Tokens refill continuously at the
// configured rate and never accumulate beyond the burst size.
//
// One Bucket belongs to one upstream client instance; rate.Limiter is safe
// for concurrent use, so no additional locking is required.
type Bucket struct {
	limiter *rate.Limiter
	burst   int
}

// NewBucket creates a bucket holding at most burst tokens, refilled at
// refillPerSec tokens per second. The bucket starts full.
func NewBucket(refillPerSec float64, burst int) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		limiter: rate.NewLimiter(rate.Limit(refillPerSec), burst),
		burst:   burst,
	}
}

// TryConsume takes one token if available. It never waits.
func (b *Bucket) TryConsume() bool {
	return b.limiter.Allow()
}

// Reservation is a held token. Cancel gives it back when the caller rejects
// the request locally before any network traffic is spent.
type Reservation struct {
	r *rate.Reservation
}

// Cancel returns the held token to the bucket.
func (r *Reservation) Cancel() {
	if r != nil && r.r != nil {
		r.r.Cancel()
	}
}

// TryReserve takes one token if available, returning a handle the caller can
// cancel to restore the token. It never waits.
func (b *Bucket) TryReserve() (*Reservation, bool) {
	r := b.limiter.ReserveN(time.Now(), 1)
	if !r.OK() || r.Delay() > 0 {
		r.Cancel()
		return nil, false
	}
	return &Reservation{r: r}, true
}

// TimeUntilNextToken estimates how long a caller must wait before the next
// TryConsume can succeed. Returns 0 when a token is already available.
func (b *Bucket) TimeUntilNextToken() time.Duration {
	r := b.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

// Tokens reports the current token count. Useful for diagnostics only; the
// value is stale the moment it is returned.
func (b *Bucket) Tokens() float64 {
	return b.limiter.Tokens()
}

// Burst returns the maximum token capacity.
func (b *Bucket) Burst() int {
	return b.burst
}
