package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcportal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcportal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	portalCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcportal",
			Subsystem: "portal",
			Name:      "commands_total",
			Help:      "Commands sent through a portal, by completion status.",
		},
		[]string{"opcode", "status"},
	)
	portalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcportal",
			Subsystem: "portal",
			Name:      "command_duration_seconds",
			Help:      "Portal round trip duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"opcode"},
	)
	portalTransportFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mcportal",
			Subsystem: "portal",
			Name:      "transport_failures_total",
			Help:      "Portal round trips that failed before a response arrived.",
		},
	)
	simCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcportal",
			Subsystem: "mcsim",
			Name:      "commands_total",
			Help:      "Commands executed by the simulated firmware.",
		},
		[]string{"opcode", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			portalCommands,
			portalDuration,
			portalTransportFailures,
			simCommands,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPortalCommand(opcode, status string, duration time.Duration) {
	RegisterMetrics()
	portalCommands.WithLabelValues(opcode, status).Inc()
	portalDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

func RecordPortalTransportFailure() {
	RegisterMetrics()
	portalTransportFailures.Inc()
}

func RecordSimCommand(opcode, status string) {
	RegisterMetrics()
	simCommands.WithLabelValues(opcode, status).Inc()
}
