// SPDX-License-Identifier: GPL-3.0-or-later
package throttle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/sirupsen/logrus"
)

const DefaultMaxRetries = 5

// Retrier resends requests answered with 429 or 5xx. The server's
// Retry-After is honoured, otherwise the delay grows exponentially.
type Retrier struct {
	MaxRetries int
	Sleep      Sleeper
	Now        func() time.Time
	// ShouldRetry decides on a response, it may read the body as long as
	// it leaves a readable one behind.
	ShouldRetry func(resp *http.Response) bool

	l *logrus.Logger
}

func NewRetrier(l *logrus.Logger) *Retrier {
	return &Retrier{
		MaxRetries:  DefaultMaxRetries,
		Sleep:       DefaultSleeper,
		Now:         time.Now,
		ShouldRetry: retryableResponse,
		l:           l,
	}
}

// Do calls send until it returns a response that is not retryable or the
// retries are exhausted. send must build a fresh request on every call.
// Transport errors are not retried and returned as ConnectionError.
func (r *Retrier) Do(ctx context.Context, op string, send func() (*http.Response, error)) (*http.Response, error) {
	b := NewBackOff()

	for attempt := 0; ; attempt++ {
		resp, err := send()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &domain.ConnectionError{Op: op, Err: err}
		}

		if !r.ShouldRetry(resp) {
			return resp, nil
		}

		wait, hinted := RetryAfter(resp, r.Now())
		drain(resp)

		if attempt >= r.MaxRetries {
			return nil, &domain.ThrottledError{StatusCode: resp.StatusCode, RetryAfter: wait, Attempts: attempt + 1}
		}

		if !hinted {
			wait = b.NextBackOff()
		}

		r.l.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode, "attempt": attempt + 1, "wait": wait}).Warn("Request throttled, retrying")
		if err := r.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func Retryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func retryableResponse(resp *http.Response) bool {
	return Retryable(resp.StatusCode)
}

// RetryAfter reads the Retry-After header in either of its forms, seconds or
// an http date.
func RetryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if date, err := http.ParseTime(value); err == nil {
		wait := date.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}

	return 0, false
}

// ReadError builds an error from a non-success response and closes its body.
func ReadError(resp *http.Response) error {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, text)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
