// Package telemetry collects Prometheus metrics for the queue, dispatcher,
// and HTTP context packages, replacing the teacher's hand-rolled sync.Map
// counters (internal/server/metrics.go) with the library the rest of the
// example pack already imports for this concern.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge/histogram this repo exposes. A nil
// *Metrics is safe to call methods on (they become no-ops), so callers that
// don't want telemetry can leave it unset rather than branch on nilness.
type Metrics struct {
	reg *prometheus.Registry

	queueDepth   *prometheus.GaugeVec
	queueRunning *prometheus.GaugeVec
	taskFailures *prometheus.CounterVec

	framesSent *prometheus.CounterVec
	framesRecv *prometheus.CounterVec
	frameBytes *prometheus.HistogramVec

	outgoingLifetime *prometheus.HistogramVec
	dispatchUnknown  prometheus.Counter

	httpRetries   *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New builds a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		queueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "apirouter_queue_depth",
			Help: "Pending task count per named queue.",
		}, []string{"queue"}),
		queueRunning: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "apirouter_queue_running",
			Help: "In-flight task count per named queue.",
		}, []string{"queue"}),
		taskFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "apirouter_queue_task_failures_total",
			Help: "Queue tasks that returned a non-nil error.",
		}, []string{"queue"}),
		framesSent: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "apirouter_mfp_frames_sent_total",
			Help: "MFP frames sent by protocol type.",
		}, []string{"protocol"}),
		framesRecv: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "apirouter_mfp_frames_received_total",
			Help: "MFP frames decoded on receive by protocol type.",
		}, []string{"protocol"}),
		frameBytes: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apirouter_mfp_frame_bytes",
			Help:    "Encoded MFP frame size in bytes.",
			Buckets: prometheus.ExponentialBuckets(32, 4, 8),
		}, []string{"protocol"}),
		outgoingLifetime: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apirouter_dispatch_outgoing_lifetime_seconds",
			Help:    "Time from send to terminal frame for an outgoing context.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		dispatchUnknown: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "apirouter_dispatch_unknown_frames_total",
			Help: "Frames that matched no tracked context (spec §8 property 9).",
		}),
		httpRetries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "apirouter_http_retries_total",
			Help: "HTTP context retry attempts by endpoint kind.",
		}, []string{"kind"}),
		httpDurations: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apirouter_http_request_duration_seconds",
			Help:    "HTTP context duration from run() to finished.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
	}
	return m
}

// Handler exposes the registry in the Prometheus exposition format, the
// direct replacement for the teacher's hand-written serveMetrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQueueStats(queue string, depth, running int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
	m.queueRunning.WithLabelValues(queue).Set(float64(running))
}

func (m *Metrics) IncTaskFailure(queue string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(queue).Inc()
}

func (m *Metrics) ObserveFrameSent(protocol string, size int) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(protocol).Inc()
	m.frameBytes.WithLabelValues(protocol).Observe(float64(size))
}

func (m *Metrics) ObserveFrameReceived(protocol string) {
	if m == nil {
		return
	}
	m.framesRecv.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ObserveOutgoingLifetime(status string, seconds float64) {
	if m == nil {
		return
	}
	m.outgoingLifetime.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) IncUnknownFrame() {
	if m == nil {
		return
	}
	m.dispatchUnknown.Inc()
}

func (m *Metrics) IncHTTPRetry(kind string) {
	if m == nil {
		return
	}
	m.httpRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHTTPDuration(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDurations.WithLabelValues(kind, status).Observe(seconds)
}
