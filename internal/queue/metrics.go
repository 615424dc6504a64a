package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventspool_queue_size",
		Help: "Current number of events held in the failure queue",
	})

	queueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventspool_queue_capacity",
		Help: "Configured maximum number of events the failure queue holds",
	})

	queueEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_queue_enqueued_total",
		Help: "Total number of events appended to the failure queue",
	})

	queueEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_queue_evicted_total",
		Help: "Total number of oldest events dropped to make room at capacity",
	})

	queueDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_queue_delivered_total",
		Help: "Total number of events removed after a successful delivery",
	})

	queueFailedAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_queue_failed_attempts_total",
		Help: "Total number of delivery attempts recorded as failed",
	})

	queuePrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_queue_pruned_total",
		Help: "Total number of events removed after exhausting their retries",
	})
)

func init() {
	prometheus.MustRegister(queueSize)
	prometheus.MustRegister(queueCapacity)
	prometheus.MustRegister(queueEnqueuedTotal)
	prometheus.MustRegister(queueEvictedTotal)
	prometheus.MustRegister(queueDeliveredTotal)
	prometheus.MustRegister(queueFailedAttemptsTotal)
	prometheus.MustRegister(queuePrunedTotal)

	// Initialize gauges to 0 so they appear in Prometheus immediately
	queueSize.Set(0)

	// Initialize counters to 0 so they appear in Prometheus immediately
	queueEnqueuedTotal.Add(0)
	queueEvictedTotal.Add(0)
	queueDeliveredTotal.Add(0)
	queueFailedAttemptsTotal.Add(0)
	queuePrunedTotal.Add(0)
}
