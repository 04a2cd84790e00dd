package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrcoord",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrcoord",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// Tune buckets to your SLOs. This covers 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrcoord",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	ServersUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrcoord",
			Name:      "servers_up",
			Help:      "Number of UP servers, by service.",
		},
		[]string{"service"},
	)

	EnlistmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrcoord",
			Name:      "enlistments_total",
			Help:      "Total number of servers successfully enlisted.",
		},
	)

	ServerCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrcoord",
			Name:      "server_crashes_total",
			Help:      "Total number of servers declared crashed.",
		},
	)

	PropagationLagVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrcoord",
			Name:      "propagation_lag_versions",
			Help:      "Buffer head version minus the minimum confirmed version across subscribers.",
		},
	)

	BackupSelectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zephyrcoord",
			Name:      "backup_select_duration_seconds",
			Help:      "Latency of a single backup placement selection.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrcoord",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrcoord",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		ServersUp, EnlistmentsTotal, ServerCrashesTotal,
		PropagationLagVersions, BackupSelectDuration,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.HandleFunc("/servers", telemetry.Instrument("enlist", http.HandlerFunc(s.Enlist)).ServeHTTP)
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
