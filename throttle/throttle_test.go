// SPDX-License-Identifier: GPL-3.0-or-later
package throttle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CrawX/go-mailsync/domain"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestNewBackOff(t *testing.T) {
	b := NewBackOff()

	expected := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	previous := time.Duration(0)
	for i, e := range expected {
		d := b.NextBackOff()
		assert.Equal(t, e*time.Second, d, "attempt %d", i+1)
		assert.GreaterOrEqual(t, d, previous)
		assert.LessOrEqual(t, d, MaxDelay)
		previous = d
	}

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestRateLimiter_Interval(t *testing.T) {
	r := NewRateLimiter(WithPause(0, 0))

	times := []time.Time{}
	for i := 0; i < 5; i++ {
		assert.NoError(t, r.Wait(context.Background()))
		times = append(times, time.Now())
	}

	for i := 1; i < len(times); i++ {
		// small tolerance for timer granularity
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 90*time.Millisecond)
	}
	assert.Equal(t, 5, r.Requests())
}

func TestRateLimiter_Pause(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := NewRateLimiter(
		WithInterval(time.Microsecond),
		WithPause(3, 2*time.Second),
		WithLimiterSleeper(sleeper.sleep),
	)

	for i := 0; i < 7; i++ {
		assert.NoError(t, r.Wait(context.Background()))
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.delays)
}

func TestRateLimiter_Cancelled(t *testing.T) {
	r := NewRateLimiter(WithInterval(time.Hour))
	assert.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, r.Wait(ctx))
}

func newTestRetrier(sleeper *recordingSleeper) *Retrier {
	r := NewRetrier(nullLogger())
	r.Sleep = sleeper.sleep
	return r
}

func TestRetrier_RetryAfter(t *testing.T) {
	var mu sync.Mutex
	requests := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, req.Method+" "+req.URL.RequestURI())
		if len(requests) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	r := newTestRetrier(sleeper)

	resp, err := r.Do(context.Background(), "list", func() (*http.Response, error) {
		return http.Get(server.URL + "/me/messages?$top=10")
	})
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.delays)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, requests, 2)
	assert.Equal(t, requests[0], requests[1])
}

func TestRetrier_Exhausted(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	r := newTestRetrier(sleeper)

	_, err := r.Do(context.Background(), "list", func() (*http.Response, error) {
		return http.Get(server.URL)
	})

	var throttled *domain.ThrottledError
	assert.True(t, errors.As(err, &throttled))
	assert.Equal(t, http.StatusServiceUnavailable, throttled.StatusCode)
	assert.Equal(t, 6, throttled.Attempts)
	assert.Equal(t, int32(6), count.Load())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, sleeper.delays)
}

func TestRetrier_NotRetried(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	r := newTestRetrier(sleeper)

	resp, err := r.Do(context.Background(), "get", func() (*http.Response, error) {
		return http.Get(server.URL)
	})
	assert.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), count.Load())
	assert.Empty(t, sleeper.delays)
}

func TestRetrier_TransportError(t *testing.T) {
	r := newTestRetrier(&recordingSleeper{})

	_, err := r.Do(context.Background(), "get", func() (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	assert.True(t, domain.IsConnectionError(err))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		header   string
		expected time.Duration
		ok       bool
	}{
		{"seconds", "5", 5 * time.Second, true},
		{"date", "Wed, 01 May 2024 12:00:30 GMT", 30 * time.Second, true},
		{"past date", "Wed, 01 May 2024 11:00:00 GMT", 0, true},
		{"missing", "", 0, false},
		{"garbage", "soon", 0, false},
		{"negative", "-3", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tc.header != "" {
				resp.Header.Set("Retry-After", tc.header)
			}
			d, ok := RetryAfter(resp, now)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, d)
		})
	}
}
