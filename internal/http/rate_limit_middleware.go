package httpx

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateClass is a budget shared by a group of routes. Limiter keys are
// prefixed with the class name, so a caller's webhook deliveries and stream
// sessions never draw from each other's budget.
type rateClass struct {
	name   string
	limit  int
	window time.Duration
	key    func(r *Router, req *http.Request) string
}

const (
	rateClassAPI     = "api"
	rateClassWebhook = "webhook"
	rateClassStream  = "stream"
)

func (r *Router) rateClasses() map[string]rateClass {
	return map[string]rateClass{
		rateClassAPI:     {name: rateClassAPI, limit: r.userLimit, window: time.Minute, key: (*Router).callerKey},
		rateClassWebhook: {name: rateClassWebhook, limit: rateLimitWebhook, window: time.Minute, key: (*Router).sourceKey},
		rateClassStream:  {name: rateClassStream, limit: rateLimitStream, window: rateWindowRealtime, key: (*Router).streamKey},
	}
}

// limited guards next with the budget of class. route labels the metric.
func (r *Router) limited(class, route string, next http.HandlerFunc) http.HandlerFunc {
	rc, ok := r.classes[class]
	if !ok || rc.limit <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		key := rc.key(r, req)
		decision := r.limiter.Allow(rc.name+":"+key, rc.limit, rc.window)
		r.applyRateHeaders(w, rc.limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(rc.name, route, keyKind(key))
			r.logger.Warn("rate limit exceeded", "class", rc.name, "route", route, "key_kind", keyKind(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// callerKey identifies an authenticated caller; it runs after requireAuth.
func (r *Router) callerKey(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return r.sourceKey(req)
}

func (r *Router) sourceKey(req *http.Request) string {
	ip := clientIP(req)
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// streamKey charges sessions to the token's user when the token verifies, so
// users behind one proxy do not share a stream budget. Rejected tokens are
// charged to the address.
func (r *Router) streamKey(req *http.Request) string {
	if r.tokens != nil {
		if userID, err := r.tokens.Verify(streamToken(req)); err == nil && userID != "" {
			return "user:" + userID
		}
	}
	return r.sourceKey(req)
}

func keyKind(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return "unknown"
}

// memoryRateLimiter keeps per-process windows. It backs single-node runs and
// routers built without a shared limiter.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]rateDecision
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns an in-process limiter that forgets expired
// windows every sweep interval.
func NewMemoryRateLimiter() RateLimiter {
	rl := newMemoryRateLimiter(time.Now)
	go rl.sweep(5 * time.Minute)
	return rl
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{windows: make(map[string]rateDecision), now: now, stop: make(chan struct{})}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.windowEnd) {
		w = rateDecision{windowEnd: now.Add(window)}
	}
	if w.count >= limit {
		w.allowed = false
		return w
	}
	w.count++
	w.allowed = true
	rl.windows[key] = w
	return w
}

func (rl *memoryRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.forgetExpired()
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) forgetExpired() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.windowEnd) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
