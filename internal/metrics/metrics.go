package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ampnm"

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	probesTotal         *prometheus.CounterVec
	probeDuration       *prometheus.HistogramVec
	probesSkipped       *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	pollTasks           prometheus.Gauge
	framesRendered      prometheus.Counter
	streamClients       prometheus.Gauge
	eventsPruned        prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP, probe and session metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the map engine",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the map engine",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	probesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_total",
		Help:      "Reachability probes by monitor method and outcome",
	}, []string{"method", "result"})

	probeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_duration_seconds",
		Help:      "Wall time of reachability probes including timeouts",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	probesSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probes_skipped_total",
		Help:      "Scheduled probes skipped, by reason",
	}, []string{"reason"})

	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Device status transitions by new status",
	}, []string{"status"})

	pollTasks := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poll_tasks",
		Help:      "Per-device polling tasks currently scheduled",
	})

	framesRendered := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_rendered_total",
		Help:      "Edge animation frames handed to renderers",
	})

	streamClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_clients",
		Help:      "Connected live frame stream clients",
	})

	eventsPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_events_pruned_total",
		Help:      "Status events removed by the retention job",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		probesTotal,
		probeDuration,
		probesSkipped,
		statusTransitions,
		pollTasks,
		framesRendered,
		streamClients,
		eventsPruned,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		probesTotal:         probesTotal,
		probeDuration:       probeDuration,
		probesSkipped:       probesSkipped,
		statusTransitions:   statusTransitions,
		pollTasks:           pollTasks,
		framesRendered:      framesRendered,
		streamClients:       streamClients,
		eventsPruned:        eventsPruned,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveProbe records one completed probe.
func (m *Metrics) ObserveProbe(method string, succeeded bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if succeeded {
		result = "success"
	}
	m.probesTotal.WithLabelValues(method, result).Inc()
	m.probeDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncProbeSkipped counts a scheduled tick that did not probe.
func (m *Metrics) IncProbeSkipped(reason string) {
	if m == nil {
		return
	}
	m.probesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) SetPollTasks(n int) {
	if m == nil {
		return
	}
	m.pollTasks.Set(float64(n))
}

func (m *Metrics) IncFramesRendered() {
	if m == nil {
		return
	}
	m.framesRendered.Inc()
}

func (m *Metrics) AddStreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

func (m *Metrics) AddEventsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsPruned.Add(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
