package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "warden"

var Metrics = struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge
	OutputTruncated   *prometheus.CounterVec
	SetupFailures     *prometheus.CounterVec
	RemoteRequests    *prometheus.CounterVec
	ServerRequests    *prometheus.CounterVec
}{
	ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Total command executions by backend and outcome (termination reason or error kind).",
	}, []string{"backend", "outcome"}),

	ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Command execution duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"backend"}),

	ActiveExecutions: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_executions",
		Help:      "Number of commands currently running.",
	}),

	OutputTruncated: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "output_truncated_total",
		Help:      "Captured streams cut at the output ceiling, by stream.",
	}, []string{"stream"}),

	SetupFailures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "setup_failures_total",
		Help:      "Executions that failed before the command ran, by error kind.",
	}, []string{"kind"}),

	RemoteRequests: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_requests_total",
		Help:      "Requests sent to a remote sandbox service by HTTP status class.",
	}, []string{"status"}),

	ServerRequests: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "server_requests_total",
		Help:      "Execute requests served by route and status.",
	}, []string{"route", "status"}),
}
