package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webvisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawns_total",
			Help:      "Number of successful worker spawns.",
		}, []string{"app"},
	)
	workerSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "spawn_failures_total",
			Help:      "Number of spawn attempts that failed.",
		}, []string{"app"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of respawns after a worker exit.",
		}, []string{"app"},
	)
	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of worker exits by outcome.",
		}, []string{"app", "abnormal"},
	)
	workerRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "running",
			Help:      "Current live workers per application.",
		}, []string{"app"},
	)

	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Requests handled by the host router by outcome.",
		}, []string{"host", "outcome"},
	)
	proxyUpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "upstream_duration_seconds",
			Help:      "Time to complete the primary forward.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"},
	)
	proxyMirrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "mirror_requests_total",
			Help:      "Mirror requests by result (ok, error).",
		}, []string{"host", "result"},
	)
	proxyMirrorsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "mirror_skipped_total",
			Help:      "Requests not mirrored, e.g. because the body exceeded the capture limit.",
		}, []string{"host", "reason"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerSpawns, workerSpawnFailures, workerRestarts, workerExits, workerRunning,
		proxyRequests, proxyUpstreamDuration, proxyMirrors, proxyMirrorsSkipped,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(app string) {
	if regOK.Load() {
		workerSpawns.WithLabelValues(app).Inc()
	}
}

func IncSpawnFailure(app string) {
	if regOK.Load() {
		workerSpawnFailures.WithLabelValues(app).Inc()
	}
}

func IncRestart(app string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(app).Inc()
	}
}

func IncExit(app string, abnormal bool) {
	if regOK.Load() {
		workerExits.WithLabelValues(app, strconv.FormatBool(abnormal)).Inc()
	}
}

func SetRunning(app string, n int) {
	if regOK.Load() {
		workerRunning.WithLabelValues(app).Set(float64(n))
	}
}

func IncProxyRequest(host, outcome string) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(host, outcome).Inc()
	}
}

func ObserveUpstream(host string, d time.Duration) {
	if regOK.Load() {
		proxyUpstreamDuration.WithLabelValues(host).Observe(d.Seconds())
	}
}

func IncMirror(host string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		proxyMirrors.WithLabelValues(host, result).Inc()
	}
}

func IncMirrorSkipped(host, reason string) {
	if regOK.Load() {
		proxyMirrorsSkipped.WithLabelValues(host, reason).Inc()
	}
}
