package httpx

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helvetia",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Processed HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "helvetia",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Handler latency. Stream routes are excluded because they last for the session.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helvetia",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests refused by a rate budget",
	}, []string{"class", "route", "key_kind"})

	streamConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helvetia",
		Subsystem: "http",
		Name:      "stream_connects_total",
		Help:      "Stream session attempts by kind, transport and outcome",
	}, []string{"kind", "transport", "outcome"})
)

func initMetrics() {
	metricsOnce.Do(func() {
		requestTotal = registerCounter(requestTotal)
		rateLimitHits = registerCounter(rateLimitHits)
		streamConnects = registerCounter(streamConnects)
		if err := prometheus.Register(requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					requestLatency = existing
				}
			}
		}
	})
}

func registerCounter(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func recordRequest(method, route string, status int, duration time.Duration, streaming bool) {
	requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	if !streaming {
		requestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

func (r *Router) recordRateLimitHit(class, route, keyKind string) {
	rateLimitHits.WithLabelValues(class, route, keyKind).Inc()
}

// Stream connect outcomes.
const (
	streamOpened   = "opened"
	streamRejected = "rejected"
	streamFailed   = "failed"
)

func recordStreamConnect(kind, transport, outcome string) {
	streamConnects.WithLabelValues(kind, transport, outcome).Inc()
}
