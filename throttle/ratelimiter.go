// SPDX-License-Identifier: GPL-3.0-or-later
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultPauseEvery  = 100
	DefaultPauseLength = 2 * time.Second
)

// RateLimiter spaces requests at least Interval apart and additionally
// pauses before every PauseEvery-th request.
type RateLimiter struct {
	limiter *rate.Limiter

	pauseEvery  int
	pauseLength time.Duration
	sleep       Sleeper

	mu    sync.Mutex
	count int
}

type RateLimiterOption func(r *RateLimiter)

func WithInterval(interval time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		r.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

func WithPause(every int, length time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		r.pauseEvery = every
		r.pauseLength = length
	}
}

func WithLimiterSleeper(sleep Sleeper) RateLimiterOption {
	return func(r *RateLimiter) {
		r.sleep = sleep
	}
}

func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		limiter:     rate.NewLimiter(rate.Every(DefaultInterval), 1),
		pauseEvery:  DefaultPauseEvery,
		pauseLength: DefaultPauseLength,
		sleep:       DefaultSleeper,
	}
	for _, o := range opts {
		o(r)
	}

	return r
}

// Wait blocks until the next request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.count++
	pause := r.pauseEvery > 0 && r.count%r.pauseEvery == 0
	r.mu.Unlock()

	if pause {
		if err := r.sleep(ctx, r.pauseLength); err != nil {
			return err
		}
	}

	return r.limiter.Wait(ctx)
}

// Requests returns how many requests passed the limiter.
func (r *RateLimiter) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}
