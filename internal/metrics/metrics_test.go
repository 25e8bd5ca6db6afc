package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Fix(OutcomeAccepted)
	m.Fix(OutcomeAccepted)
	m.Fix(OutcomeDuplicate)
	m.StorageError()
	m.NotificationFailed()
	m.SummaryFlushed(3)
	m.SetActiveSessions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FixesTotal.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FixesTotal.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrorsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SummaryFlushesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Fix(OutcomeInvalid)
		m.StorageError()
		m.NotificationFailed()
		m.SummaryFlushed(1)
		m.SetActiveSessions(1)
	})
}
