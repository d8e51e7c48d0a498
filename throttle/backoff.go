// SPDX-License-Identifier: GPL-3.0-or-later
package throttle

import (
	"context"
	"time"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/cenkalti/backoff/v4"
)

const (
	InitialDelay = time.Second
	MaxDelay     = 30 * time.Second
)

// Sleeper waits for d unless ctx is done first.
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultSleeper sleeps for real.
var DefaultSleeper Sleeper = domain.Sleep

// NewBackOff returns the delay sequence used for reconnects and retries:
// 1s, 2s, 4s ... capped at 30s, without jitter and without giving up.
func NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}
