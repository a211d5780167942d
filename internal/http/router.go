package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/catalog"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/deploy"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/stream"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/webhook"
)

// TokenVerifier maps a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Catalog reads and writes service definitions.
type Catalog interface {
	Create(ctx context.Context, ownerID string, input catalog.CreateInput) (*catalog.View, error)
	Get(ctx context.Context, ownerID, id string) (*catalog.View, error)
	List(ctx context.Context, ownerID string) ([]catalog.View, error)
	Deployments(ctx context.Context, ownerID, id string, limit int) ([]domain.Deployment, error)
}

// Deployer creates deployments.
type Deployer interface {
	Trigger(ctx context.Context, ownerID, serviceID, commitHash string) (*domain.Deployment, error)
	HandlePush(ctx context.Context, ev domain.PushEvent) (deploy.Result, error)
	HandlePullRequest(ctx context.Context, ev domain.PullRequestEvent) (deploy.Result, error)
}

// Lifecycle restarts and deletes running services.
type Lifecycle interface {
	Restart(ctx context.Context, ownerID, serviceID string) (string, error)
	Delete(ctx context.Context, ownerID, serviceID string, mode lifecycle.Mode) error
}

// Webhooks verifies and decodes provider deliveries.
type Webhooks interface {
	Verify(payload []byte, provided string) error
	Parse(eventName string, body []byte) (webhook.Event, error)
}

// Streams opens live sessions.
type Streams interface {
	OpenMetrics(ctx context.Context, token string, connect stream.ConnectFunc) (*stream.Session, error)
	OpenLogs(ctx context.Context, token, deploymentID string, connect stream.ConnectFunc) (*stream.Session, error)
}

// Deps bundles everything the router dispatches to.
type Deps struct {
	Tokens    TokenVerifier
	Catalog   Catalog
	Deploy    Deployer
	Lifecycle Lifecycle
	Webhooks  Webhooks
	Streams   Streams
	Limiter   RateLimiter
	// RateLimitPerMinute applies to authenticated calls; webhooks and streams get their own budgets.
	RateLimitPerMinute int
	DBHealth           func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	tokens    TokenVerifier
	catalog   Catalog
	deploy    Deployer
	lifecycle Lifecycle
	webhooks  Webhooks
	streams   Streams
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	userLimit int
	classes   map[string]rateClass
	dbHealth  func(context.Context) error
}

const (
	rateWindowRealtime = 30 * time.Second
	rateLimitUserRead  = 120
	rateLimitWebhook   = 300
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	maxWebhookBody     = 5 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Deps) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		tokens:    deps.Tokens,
		catalog:   deps.Catalog,
		deploy:    deps.Deploy,
		lifecycle: deps.Lifecycle,
		webhooks:  deps.Webhooks,
		streams:   deps.Streams,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   deps.Limiter,
		userLimit: deps.RateLimitPerMinute,
		dbHealth:  deps.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.userLimit <= 0 {
		r.userLimit = rateLimitUserRead
	}
	r.classes = r.rateClasses()
	initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("GET /healthz", "/healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.handle("POST /services", "/services", r.authRate("/services", r.handleCreateService))
	r.handle("GET /services", "/services", r.authRate("/services", r.handleListServices))
	r.handle("GET /services/{id}", "/services/{id}", r.authRate("/services/{id}", r.handleGetService))
	r.handle("DELETE /services/{id}", "/services/{id}", r.authRate("/services/{id}", r.handleDeleteService))
	r.handle("POST /services/{id}/deploy", "/services/{id}/deploy", r.authRate("/services/{id}/deploy", r.handleDeployService))
	r.handle("POST /services/{id}/restart", "/services/{id}/restart", r.authRate("/services/{id}/restart", r.handleRestartService))
	r.handle("GET /services/{id}/deployments", "/services/{id}/deployments", r.authRate("/services/{id}/deployments", r.handleListDeployments))

	r.handle("POST /webhooks/git", "/webhooks/git", r.limited(rateClassWebhook, "/webhooks/git", r.handleGitWebhook))

	r.handle("GET /stream/metrics", "/stream/metrics", r.limited(rateClassStream, "/stream/metrics", r.handleMetricsStream))
	r.handle("GET /stream/logs/{deploymentId}", "/stream/logs/{deploymentId}", r.limited(rateClassStream, "/stream/logs/{deploymentId}", r.handleLogsStream))
}

func (r *Router) handle(pattern, route string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(route, h))
}

func (r *Router) authRate(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.limited(rateClassAPI, route, next))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		recordRequest(req.Method, route, status, duration, strings.HasPrefix(route, "/stream/"))

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/webhooks/") {
			actor = "webhook"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		// the connection is handed over; report it as switching protocols
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}
