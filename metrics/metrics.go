// Package metrics exports upload session activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/session"
	"github.com/voxtrail/audiostream/store"
)

const namespace = "audiostream"

// Metrics holds the Prometheus collectors for upload sessions. It implements
// session.Observer; register it with session.WithObserver.
type Metrics struct {
	// Session metrics
	SessionsOpened  prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Part metrics
	PartsUploaded  prometheus.Counter
	BytesUploaded  prometheus.Counter
	PartRetries    *prometheus.CounterVec
	PartDuration   prometheus.Histogram
	PartSize       prometheus.Histogram
	PartsPerObject prometheus.Histogram

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	clock clockwork.Clock
}

// Option configures Metrics.
type Option func(*Metrics)

// WithClock sets the clock used to measure session durations. Pass the
// clock the session factory uses.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Metrics) {
		if clock != nil {
			m.clock = clock
		}
	}
}

var _ session.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. If reg is nil the
// collectors are not registered anywhere.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of upload sessions opened",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_open_failed_total",
			Help:      "Total number of upload sessions that could not be opened",
		}, []string{"code"}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of upload sessions ended, by final state and failure kind",
		}, []string{"state", "kind"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of open upload sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from opening to ending an upload session",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),

		PartsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_uploaded_total",
			Help:      "Total number of parts accepted by the store",
		}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total number of audio bytes accepted by the store",
		}),
		PartRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_retries_total",
			Help:      "Total number of part upload retries, by error code",
		}, []string{"code"}),
		PartDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "part_upload_duration_seconds",
			Help:      "Time to upload a part, including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		PartSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "part_size_bytes",
			Help:      "Size of uploaded parts",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		PartsPerObject: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parts_per_object",
			Help:      "Number of parts in committed objects",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clock returns the clock durations are measured with.
func (m *Metrics) Clock() clockwork.Clock { return m.clock }

// SessionOpened increments the opened counter and the active gauge.
func (m *Metrics) SessionOpened(session.Info) {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

// SessionOpenFailed counts a failed session creation by error code.
func (m *Metrics) SessionOpenFailed(_ session.Participant, err error) {
	m.SessionsFailed.WithLabelValues(string(errors.Code(err))).Inc()
}

// PartUploaded records an accepted part.
func (m *Metrics) PartUploaded(_ session.Info, receipt store.Receipt, _ int, elapsed time.Duration) {
	m.PartsUploaded.Inc()
	m.BytesUploaded.Add(float64(receipt.Size))
	m.PartSize.Observe(float64(receipt.Size))
	m.PartDuration.Observe(elapsed.Seconds())
}

// PartRetried counts a retry by the code of the error that caused it.
func (m *Metrics) PartRetried(_ session.Info, _ int32, _ int, err error) {
	m.PartRetries.WithLabelValues(string(errors.Code(err))).Inc()
}

// SessionEnded records the final state of a session.
func (m *Metrics) SessionEnded(info session.Info, err error) {
	kind := "none"
	if k := errors.KindOf(err); k != "" {
		kind = string(k)
	}
	m.SessionsEnded.WithLabelValues(info.State.String(), kind).Inc()
	m.ActiveSessions.Dec()
	if !info.StartedAt.IsZero() {
		m.SessionDuration.Observe(m.clock.Since(info.StartedAt).Seconds())
	}
	if info.State == session.StateClosed {
		m.PartsPerObject.Observe(float64(info.Parts))
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
