package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mockpair"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	pairingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_outcomes_total",
			Help:      "Pairing attempts by entry path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	queueDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deliveries_total",
			Help:      "Queue deliveries by settlement (ack, requeue, dead_letter).",
		},
		[]string{"result"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation requests by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, pairingOutcomes, queueDeliveries, cancellations)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncPairing counts one pairing attempt. path is "sync" or "queue".
func IncPairing(path, outcome string) {
	pairingOutcomes.WithLabelValues(path, outcome).Inc()
}

func IncDelivery(result string) {
	queueDeliveries.WithLabelValues(result).Inc()
}

func IncCancellation(result string) {
	cancellations.WithLabelValues(result).Inc()
}
