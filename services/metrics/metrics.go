// Package metrics exposes the portal client's counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "masomo_portal"

// Metrics is safe to use through a nil pointer: every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	renewals   *prometheus.CounterVec
	retries    prometheus.Counter
	requests   *prometheus.CounterVec
	pushEvents prometheus.Counter
	reconnects prometheus.Counter
	unread     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_renewals_total",
			Help:      "Access token renewals, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests retried after a successful renewal.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests, by outcome.",
		}, []string{"outcome"}),
		pushEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Events received on the notification channel.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_reconnects_total",
			Help:      "Notification channel reconnect attempts.",
		}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_messages",
			Help:      "Current unread message count.",
		}),
	}
	m.registry.MustRegister(m.renewals, m.retries, m.requests, m.pushEvents, m.reconnects, m.unread)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Renewal(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.renewals.WithLabelValues(result).Inc()
}

func (m *Metrics) Retry() {
	if m != nil {
		m.retries.Inc()
	}
}

// Request counts a request outcome: "ok", "unauthorized", "error"...
func (m *Metrics) Request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PushEvent() {
	if m != nil {
		m.pushEvents.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) SetUnread(n int) {
	if m != nil {
		m.unread.Set(float64(n))
	}
}
