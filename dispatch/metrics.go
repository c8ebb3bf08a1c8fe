package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newMetrics creates the dispatch collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starch",
			Name:      "dispatch_total",
			Help:      "Total number of dispatched requests by handler, action and outcome",
		}, []string{"handler", "action", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "starch",
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}
