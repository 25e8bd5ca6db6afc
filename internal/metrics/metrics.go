package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fix outcome labels
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeInvalid      = "invalid"
	OutcomeStorageError = "storage_error"
)

// Metrics holds the trip recorder instruments. A nil *Metrics records nothing.
type Metrics struct {
	FixesTotal           *prometheus.CounterVec
	StorageErrorsTotal   prometheus.Counter
	NotificationFailures prometheus.Counter
	SummaryFlushesTotal  prometheus.Counter
	ActiveSessions       prometheus.Gauge
}

// New registers the instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FixesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trip_fixes_total",
			Help: "Position fixes ingested, by outcome.",
		}, []string{"outcome"}),
		StorageErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trip_storage_errors_total",
			Help: "Failed point appends and summary writes.",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trip_notification_failures_total",
			Help: "Notification callbacks that returned an error or panicked.",
		}),
		SummaryFlushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trip_summary_flushes_total",
			Help: "Buffered trip summaries written to storage.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "trip_active_sessions",
			Help: "Trips currently open for recording.",
		}),
	}
}

// Fix counts one ingested fix
func (m *Metrics) Fix(outcome string) {
	if m == nil {
		return
	}
	m.FixesTotal.WithLabelValues(outcome).Inc()
}

// StorageError counts one failed storage call
func (m *Metrics) StorageError() {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.Inc()
}

// NotificationFailed counts one failed notification
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

// SummaryFlushed counts written buffered summaries
func (m *Metrics) SummaryFlushed(n int) {
	if m == nil {
		return
	}
	m.SummaryFlushesTotal.Add(float64(n))
}

// SetActiveSessions sets the open trip gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
