package deploy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce   sync.Once
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helvetia",
		Subsystem: "deploy",
		Name:      "dispatch_total",
		Help:      "Deployments dispatched by trigger and outcome",
	}, []string{"trigger", "outcome"})
)

func initMetrics() {
	metricsOnce.Do(func() {
		if err := prometheus.Register(dispatchTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					dispatchTotal = existing
				}
			}
		}
	})
}

func recordDispatch(trigger, outcome string) {
	dispatchTotal.WithLabelValues(trigger, outcome).Inc()
}
