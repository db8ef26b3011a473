package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/core"
)

// fakeCounter counts increments in memory, standing in for Redis.
type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestRateLimiterDisabledWithoutRedis(t *testing.T) {
	writeErr, _ := testErrorWriter(t)
	rl := NewRateLimiter(nil, config.RateLimitConfig{Enabled: true, APILimit: 1, AuthLimit: 1}, writeErr)

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rl.ForAuth(next).ServeHTTP(httptest.NewRecorder(), req)
		rl.ForAPI(next).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 10, calls)
}

func TestRateLimiterDisabledByConfig(t *testing.T) {
	writeErr, _ := testErrorWriter(t)
	rl := NewRateLimiter(nil, config.RateLimitConfig{Enabled: false}, writeErr)

	called := false
	rl.ForAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRateLimiterOverLimit(t *testing.T) {
	writeErr := func(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
	}
	rl := NewRateLimiter(nil, config.RateLimitConfig{Enabled: true, AuthLimit: 2}, writeErr)
	rl.counter = &fakeCounter{}

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:54321"
		last = httptest.NewRecorder()
		rl.ForAuth(next).ServeHTTP(last, req)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, string(core.CodeRateLimited), body["error"])
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1, 10.0.0.2")
	assert.Equal(t, "198.51.100.7", clientIP(req))
}
