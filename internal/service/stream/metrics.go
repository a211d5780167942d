package stream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	activeSessions *prometheus.GaugeVec
	sessionCloses  *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		activeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "helvetia",
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Number of open streaming sessions",
		}, []string{"kind"})
		sessionCloses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helvetia",
			Subsystem: "stream",
			Name:      "session_closes_total",
			Help:      "Streaming sessions closed, by reason",
		}, []string{"kind", "reason"})

		if err := prometheus.Register(activeSessions); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
					activeSessions = existing
				}
			}
		}
		if err := prometheus.Register(sessionCloses); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					sessionCloses = existing
				}
			}
		}
	})
}
