package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"
)

// Metrics tracks what the API hands to overlays: open streams per transport,
// frames delivered per kind and frames lost on the way out.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	streams       *prometheus.GaugeVec
	frames        *prometheus.CounterVec
	frameFailures *prometheus.CounterVec
	rejected      prometheus.Counter
	archiveErrors prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and response status",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gnasty",
			Subsystem: "api",
			Name:      "request_seconds",
			Help:      "Time to answer snapshot, archive and info requests",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"route"}),
		streams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "stream_clients",
			Help:      "Overlays currently following the live feed",
		}, []string{"transport"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "stream_frames_total",
			Help:      "Event, update and connection state frames written to overlays",
		}, []string{"transport", "kind"}),
		frameFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "stream_frame_failures_total",
			Help:      "Frames that could not be encoded or written to an overlay",
		}, []string{"transport", "kind"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests turned away by the per-client rate limit",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "archive_write_errors_total",
			Help:      "Finalized events the archive failed to persist",
		}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.streams, m.frames, m.frameFailures, m.rejected, m.archiveErrors)
	return m
}

// Register adds collectors owned by other components, such as the ingest
// pipeline, to the endpoint. Collectors already registered are skipped.
func (m *Metrics) Register(cs ...prometheus.Collector) {
	if m == nil {
		return
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			slog.Warn("httpapi: metrics register failed", "err", err)
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts a finished request. Streams are long lived, so only
// their status is counted.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	if route != "stream" && route != "ws" {
		m.latency.WithLabelValues(route).Observe(dur.Seconds())
	}
}

// StreamOpened counts an overlay on transport and returns the matching close.
func (m *Metrics) StreamOpened(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.streams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// FrameSent records one frame of the given kind reaching an overlay.
func (m *Metrics) FrameSent(transport, kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(transport, kind).Inc()
}

// FrameFailed records a frame lost on transport.
func (m *Metrics) FrameFailed(transport, kind string) {
	if m == nil {
		return
	}
	m.frameFailures.WithLabelValues(transport, kind).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// ArchiveWriteFailed is handed to the archive pump as its error callback.
func (m *Metrics) ArchiveWriteFailed() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}
