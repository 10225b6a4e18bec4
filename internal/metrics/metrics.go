// Package metrics exposes gateway, transfer and poster telemetry as
// Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/poster"
	"postcast/internal/transfer"
)

const namespace = "postcast"

type Metrics struct {
	reg *prometheus.Registry

	calls      *prometheus.CounterVec
	callTime   *prometheus.HistogramVec
	floodWaits *prometheus.CounterVec
	parts      *prometheus.CounterVec
	partBytes  *prometheus.CounterVec
	uploads    *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	attempt    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_calls_total",
			Help: "Remote calls made through the gateway.",
		}, []string{"op", "result"}),
		callTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gateway_call_duration_seconds",
			Help:    "Duration of gateway calls including pacing.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"op"}),
		floodWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_flood_waits_total",
			Help: "Flood-wait signals, split by whether a retry was made.",
		}, []string{"retried"}),
		parts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfer_parts_total",
			Help: "Upload parts sent.",
		}, []string{"destination"}),
		partBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfer_bytes_total",
			Help: "Bytes sent in upload parts.",
		}, []string{"destination"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transfer_uploads_total",
			Help: "Completed uploads.",
		}, []string{"destination", "big", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "post_outcomes_total",
			Help: "Posting attempts by final status.",
		}, []string{"destination", "status"}),
		attempt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "post_attempt_duration_seconds",
			Help:    "Wall time of one destination attempt.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"destination"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.calls, m.callTime, m.floodWaits, m.parts, m.partBytes, m.uploads, m.outcomes, m.attempt,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Session ids carry account ids, so only the op is used as a label.
func (m *Metrics) ObserveCall(_ string, op string, d time.Duration, err error) {
	m.calls.WithLabelValues(op, result(err)).Inc()
	m.callTime.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ObserveFloodWait(_ string, _ time.Duration, retried bool) {
	if retried {
		m.floodWaits.WithLabelValues("true").Inc()
		return
	}
	m.floodWaits.WithLabelValues("false").Inc()
}

func (m *Metrics) ObservePart(dest string, bytes int) {
	m.parts.WithLabelValues(dest).Inc()
	m.partBytes.WithLabelValues(dest).Add(float64(bytes))
}

func (m *Metrics) ObserveUpload(dest string, big bool, err error) {
	b := "false"
	if big {
		b = "true"
	}
	m.uploads.WithLabelValues(dest, b, result(err)).Inc()
}

func (m *Metrics) ObserveOutcome(dest string, status destination.Status, d time.Duration) {
	m.outcomes.WithLabelValues(dest, string(status)).Inc()
	m.attempt.WithLabelValues(dest).Observe(d.Seconds())
}

var (
	_ gateway.Observer  = (*Metrics)(nil)
	_ transfer.Observer = (*Metrics)(nil)
	_ poster.Observer   = (*Metrics)(nil)
)
