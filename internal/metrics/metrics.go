// Package metrics exposes Prometheus collectors for the inference queue, the plugin
// sandbox, and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edgeclaw"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	reg *prometheus.Registry

	buildInfo          *prometheus.GaugeVec
	inferenceRequests  *prometheus.CounterVec
	inferenceDuration  prometheus.Histogram
	inferenceQueueWait prometheus.Histogram
	pluginInvocations  *prometheus.CounterVec
	pluginDuration     *prometheus.HistogramVec
	routableCommands   prometheus.Gauge
	excludedPlugins    *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
}

// New creates the collectors and registers them with process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for edgeclaw",
		}, []string{"version", "model"}),
		inferenceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Inference requests by outcome (ok, busy, timeout, failed, shutdown)",
		}, []string{"outcome"}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Engine time per inference request",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		inferenceQueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_queue_wait_seconds",
			Help:      "Time requests spend admitted before the worker picks them up",
			Buckets:   prometheus.DefBuckets,
		}),
		pluginInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_invocations_total",
			Help:      "Plugin invocations by plugin and outcome (ok, error, Timeout, Crashed, SpawnError, MalformedOutput)",
		}, []string{"plugin", "outcome"}),
		pluginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_duration_seconds",
			Help:      "Wall time per plugin invocation",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"plugin"}),
		routableCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_routable_commands",
			Help:      "Commands in the live routing table",
		}),
		excludedPlugins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_excluded",
			Help:      "Plugins kept out of the routing table by reason",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.buildInfo,
		m.inferenceRequests,
		m.inferenceDuration,
		m.inferenceQueueWait,
		m.pluginInvocations,
		m.pluginDuration,
		m.routableCommands,
		m.excludedPlugins,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetBuildInfo records the running version and model.
func (m *Metrics) SetBuildInfo(version, model string) {
	m.buildInfo.WithLabelValues(version, model).Set(1)
}

// RegisterQueue exposes the admission queue depth and capacity, read at scrape time.
func (m *Metrics) RegisterQueue(depth, capacity func() int) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_queue_depth",
			Help:      "Requests admitted and waiting for the worker",
		}, func() float64 { return float64(depth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_queue_capacity",
			Help:      "Fixed capacity of the admission queue",
		}, func() float64 { return float64(capacity()) }),
	)
}

// RegisterEvents exposes event hub fan-out, read at scrape time.
func (m *Metrics) RegisterEvents(subscribers func() int, dropped func() int64) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Live SSE and monitor subscriptions",
		}, func() float64 { return float64(subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Event deliveries skipped because a subscriber was full",
		}, func() float64 { return float64(dropped()) }),
	)
}

// ObserveInference records one inference outcome. Durations are skipped when zero.
func (m *Metrics) ObserveInference(outcome string, queueWait, duration time.Duration) {
	m.inferenceRequests.WithLabelValues(outcome).Inc()
	if queueWait > 0 {
		m.inferenceQueueWait.Observe(queueWait.Seconds())
	}
	if duration > 0 {
		m.inferenceDuration.Observe(duration.Seconds())
	}
}

// ObservePlugin records one plugin invocation.
func (m *Metrics) ObservePlugin(plugin, outcome string, d time.Duration) {
	m.pluginInvocations.WithLabelValues(plugin, outcome).Inc()
	m.pluginDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// SetRegistry records the shape of the live routing table.
func (m *Metrics) SetRegistry(commands int, excludedByReason map[string]int) {
	m.routableCommands.Set(float64(commands))
	m.excludedPlugins.Reset()
	for reason, n := range excludedByReason {
		m.excludedPlugins.WithLabelValues(reason).Set(float64(n))
	}
}

// ObserveHTTP counts one HTTP response.
func (m *Metrics) ObserveHTTP(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
