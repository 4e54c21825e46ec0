package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by the authenticator and
// clients. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	Queued          prometheus.Counter
	Replayed        prometheus.Counter
	Notifications   *prometheus.CounterVec
	Terminations    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg (if not nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "refresh_total",
			Help:      "Token refresh calls by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of token refresh calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "queued_requests_total",
			Help:      "Requests queued behind an in-flight token refresh.",
		}),
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "replayed_requests_total",
			Help:      "Requests resubmitted with a refreshed token.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "notifications_total",
			Help:      "User-facing notifications emitted by kind.",
		}, []string{"kind"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lettings",
			Subsystem: "client",
			Name:      "session_terminations_total",
			Help:      "Sessions cleared because they could not be recovered.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.RefreshDuration, m.Queued, m.Replayed, m.Notifications, m.Terminations)
	}
	return m
}

func (m *Metrics) refreshed(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(took.Seconds())
}

func (m *Metrics) queued() {
	if m != nil {
		m.Queued.Inc()
	}
}

func (m *Metrics) replayed() {
	if m != nil {
		m.Replayed.Inc()
	}
}

func (m *Metrics) notified(kind Kind) {
	if m != nil {
		m.Notifications.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) terminated(reason string) {
	if m != nil {
		m.Terminations.WithLabelValues(reason).Inc()
	}
}
