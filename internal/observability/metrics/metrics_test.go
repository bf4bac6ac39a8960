package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("created", false)
	m.ObserveBooking("created", true)
	m.ObserveConflict()
	m.ObserveTransition("confirmed", "accepted")
	m.ObserveCascadeRows("cancel", "updated", 5)
	m.ObserveReminderPairs("scheduled", 1)
	m.ObserveReminderPairs("cancelled", 3)
	m.ObserveReminderFailure()
	m.ObserveBookingLatency(0.012)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.bookingsTotal.WithLabelValues("created", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reminderPairs.WithLabelValues("scheduled")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.reminderPairs.WithLabelValues("cancelled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.conflictsTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.cascadeRows.WithLabelValues("cancel", "updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reminderFailures))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("created", false)
	m.ObserveConflict()
	m.ObserveTransition("confirmed", "accepted")
	m.ObserveCascadeRows("edit", "failed", 1)
	m.ObserveReminderPairs("cancelled", 1)
	m.ObserveReminderFailure()
	m.ObserveBookingLatency(0.5)
}

func TestCascadeRowsIgnoresNonPositive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveCascadeRows("edit", "updated", 0)
	m.ObserveCascadeRows("edit", "updated", -3)
	m.ObserveReminderPairs("cancelled", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.cascadeRows.WithLabelValues("edit", "updated")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.reminderPairs.WithLabelValues("cancelled")))
}
