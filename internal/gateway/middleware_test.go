// ABOUTME: Unit tests for the per-client rate limiter and request helpers
// ABOUTME: Drives the limiter with a fake clock

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(window time.Duration, max int) (*rateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newRateLimiter(window, max)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Burst(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("10.0.0.1")
		assert.True(t, ok, "request %d", i+1)
	}

	ok, retry := rl.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 20*time.Second)

	ok, _ = rl.allow("10.0.0.2")
	assert.True(t, ok, "clients have separate buckets")
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newTestLimiter(time.Minute, 2)

	rl.allow("a")
	rl.allow("a")
	ok, _ := rl.allow("a")
	assert.False(t, ok)

	// One token every window/max
	clock.advance(30 * time.Second)
	ok, _ = rl.allow("a")
	assert.True(t, ok)

	ok, _ = rl.allow("a")
	assert.False(t, ok)
}

func TestRateLimiter_RejectedDoesNotConsume(t *testing.T) {
	rl, clock := newTestLimiter(time.Minute, 1)

	rl.allow("a")
	for i := 0; i < 5; i++ {
		ok, _ := rl.allow("a")
		assert.False(t, ok)
	}

	clock.advance(time.Minute)
	ok, _ := rl.allow("a")
	assert.True(t, ok)
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl, clock := newTestLimiter(time.Minute, 5)

	rl.allow("old")
	clock.advance(45 * time.Second)
	rl.allow("recent")
	clock.advance(30 * time.Second)

	assert.Equal(t, 1, rl.evictIdle())
	assert.Len(t, rl.clients, 1)
	_, ok := rl.clients["recent"]
	assert.True(t, ok)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.Equal(t, 15*time.Minute, rl.window)
	assert.Equal(t, 100, rl.burst)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remote     string
		trustProxy bool
		want       string
	}{
		{"peer address", "", "192.0.2.1:5555", false, "192.0.2.1"},
		{"forwarded ignored by default", "203.0.113.7", "192.0.2.1:5555", false, "192.0.2.1"},
		{"first forwarded hop behind proxy", "203.0.113.7, 10.0.0.1", "10.0.0.1:80", true, "203.0.113.7"},
		{"blank forwarded behind proxy", " ", "192.0.2.1:5555", true, "192.0.2.1"},
		{"no port", "", "192.0.2.9", false, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := bodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32)))
	h.ServeHTTP(httptest.NewRecorder(), r)

	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}
