package retry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eventspool_connection_up",
		Help: "Whether the transport is currently considered healthy (1) or not (0)",
	})

	connectionDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_connection_drops_total",
		Help: "Total number of connected to disconnected transitions",
	})

	eventsSpooledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_events_spooled_total",
		Help: "Total number of events handed to the retry manager after failed delivery",
	})

	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_retry_cycles_total",
		Help: "Total number of dispatch cycles executed",
	})

	cyclesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_retry_cycles_dropped_total",
		Help: "Total number of cycle invocations dropped because a cycle was already running",
	})

	batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_retry_batches_total",
		Help: "Total number of batches dispatched",
	})

	probesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_retry_probes_total",
		Help: "Total number of sentinel connectivity probes sent",
	})

	probeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eventspool_retry_probe_failures_total",
		Help: "Total number of sentinel connectivity probes that failed",
	})
)

func init() {
	prometheus.MustRegister(connectionUp)
	prometheus.MustRegister(connectionDropsTotal)
	prometheus.MustRegister(eventsSpooledTotal)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cyclesDroppedTotal)
	prometheus.MustRegister(batchesTotal)
	prometheus.MustRegister(probesTotal)
	prometheus.MustRegister(probeFailuresTotal)

	// Initialize gauges to 0 so they appear in Prometheus immediately
	connectionUp.Set(0)

	// Initialize counters to 0 so they appear in Prometheus immediately
	connectionDropsTotal.Add(0)
	eventsSpooledTotal.Add(0)
	cyclesTotal.Add(0)
	cyclesDroppedTotal.Add(0)
	batchesTotal.Add(0)
	probesTotal.Add(0)
	probeFailuresTotal.Add(0)
}
