package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	receiverRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_receiver_requests_total",
		Help: "Total number of ingest API requests by operation",
	}, []string{"op"})

	receiverEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_receiver_events_total",
		Help: "Total number of events accepted by the ingest API",
	})

	receiverErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventspool_receiver_errors_total",
		Help: "Total number of rejected ingest API requests",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(receiverRequestsTotal)
	prometheus.MustRegister(receiverEventsTotal)
	prometheus.MustRegister(receiverErrorsTotal)

	// Initialize counters with 0 so they appear in /metrics immediately
	receiverRequestsTotal.WithLabelValues("ingest").Add(0)
	receiverRequestsTotal.WithLabelValues("list").Add(0)
	receiverRequestsTotal.WithLabelValues("clear").Add(0)
	receiverErrorsTotal.WithLabelValues("read").Add(0)
	receiverErrorsTotal.WithLabelValues("decode").Add(0)
	receiverErrorsTotal.WithLabelValues("decompress").Add(0)
	receiverErrorsTotal.WithLabelValues("encoding").Add(0)
	receiverErrorsTotal.WithLabelValues("store").Add(0)
}
