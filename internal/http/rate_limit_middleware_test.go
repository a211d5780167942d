package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/webhook"
)

type recordingLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (l *recordingLimiter) Close() {}

func TestMemoryRateLimiterWindows(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })

	assert.True(t, rl.Allow("api:user:u1", 2, time.Minute).allowed)
	second := rl.Allow("api:user:u1", 2, time.Minute)
	assert.True(t, second.allowed)
	assert.Equal(t, 2, second.count)
	assert.False(t, rl.Allow("api:user:u1", 2, time.Minute).allowed)
	assert.True(t, rl.Allow("api:user:u2", 2, time.Minute).allowed, "keys are independent")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("api:user:u1", 2, time.Minute).allowed, "a new window starts at the boundary")

	rl.forgetExpired()
	rl.mu.Lock()
	_, kept := rl.windows["api:user:u2"]
	rl.mu.Unlock()
	assert.False(t, kept, "expired windows are swept")
}

func TestRateClassesUseSeparateKeys(t *testing.T) {
	f := newRouterFixture(t, webhookSecret)
	limiter := &recordingLimiter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, Deps{
		Tokens:    stubTokens{"good": "u1"},
		Catalog:   f.catalog,
		Deploy:    f.deployer,
		Lifecycle: f.lifecycle,
		Webhooks:  webhook.New(webhookSecret, logger),
		Streams:   f.streams,
		Limiter:   limiter,
	})

	doRequest(router, http.MethodGet, "/services", nil, authed())
	doRequest(router, http.MethodPost, "/webhooks/git", []byte(`{}`), nil)
	doRequest(router, http.MethodGet, "/stream/metrics?token=good", nil, nil)
	doRequest(router, http.MethodGet, "/stream/metrics?token=bad", nil, nil)

	require.Len(t, limiter.keys, 4)
	assert.Equal(t, "api:user:u1", limiter.keys[0])
	assert.Equal(t, "webhook:ip:192.0.2.1", limiter.keys[1])
	assert.Equal(t, "stream:user:u1", limiter.keys[2])
	assert.Equal(t, "stream:ip:192.0.2.1", limiter.keys[3])
}

func TestAPIBudgetDoesNotThrottleWebhooks(t *testing.T) {
	f := newRouterFixture(t, webhookSecret)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, Deps{
		Tokens:             stubTokens{"good": "u1"},
		Catalog:            f.catalog,
		Deploy:             f.deployer,
		Lifecycle:          f.lifecycle,
		Webhooks:           webhook.New(webhookSecret, logger),
		Streams:            f.streams,
		RateLimitPerMinute: 1,
	})
	t.Cleanup(router.Close)

	first := doRequest(router, http.MethodGet, "/services", nil, authed())
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := doRequest(router, http.MethodGet, "/services", nil, authed())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	hook := doRequest(router, http.MethodPost, "/webhooks/git", []byte(`{}`), nil)
	assert.NotEqual(t, http.StatusTooManyRequests, hook.Code)
}
