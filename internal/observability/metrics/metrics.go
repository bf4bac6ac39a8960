package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking flows.
type BookingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	conflictsTotal    prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
	cascadeRows       *prometheus.CounterVec
	reminderPairs     *prometheus.CounterVec
	reminderFailures  prometheus.Counter
	bookingLatency    prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Total booking requests by outcome",
		}, []string{"outcome", "recurring"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "appointments",
			Name:      "conflicts_detected_total",
			Help:      "Total bookings rejected for slot conflicts",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "appointments",
			Name:      "status_transitions_total",
			Help:      "Total lifecycle transitions by target status",
		}, []string{"to", "outcome"}),
		cascadeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "series",
			Name:      "cascade_rows_total",
			Help:      "Series cascade rows by operation and result",
		}, []string{"operation", "result"}),
		reminderPairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "reminders",
			Name:      "pairs_total",
			Help:      "Reminder pairs scheduled or cancelled",
		}, []string{"operation"}),
		reminderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "reminders",
			Name:      "failures_total",
			Help:      "Reminder operations that degraded silently",
		}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookingengine",
			Subsystem: "appointments",
			Name:      "booking_latency_seconds",
			Help:      "Latency of booking request processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.conflictsTotal, m.transitionsTotal,
		m.cascadeRows, m.reminderPairs, m.reminderFailures, m.bookingLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string, recurring bool) {
	if m == nil {
		return
	}
	label := "false"
	if recurring {
		label = "true"
	}
	m.bookingsTotal.WithLabelValues(outcome, label).Inc()
}

func (m *BookingMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *BookingMetrics) ObserveTransition(to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to, outcome).Inc()
}

func (m *BookingMetrics) ObserveCascadeRows(operation, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeRows.WithLabelValues(operation, result).Add(float64(n))
}

func (m *BookingMetrics) ObserveReminderPairs(operation string, pairs int) {
	if m == nil || pairs <= 0 {
		return
	}
	m.reminderPairs.WithLabelValues(operation).Add(float64(pairs))
}

func (m *BookingMetrics) ObserveReminderFailure() {
	if m == nil {
		return
	}
	m.reminderFailures.Inc()
}

func (m *BookingMetrics) ObserveBookingLatency(seconds float64) {
	if m == nil {
		return
	}
	m.bookingLatency.Observe(seconds)
}
