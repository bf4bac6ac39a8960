package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/practicekit/booking-engine/internal/observability/metrics"
	"github.com/practicekit/booking-engine/pkg/logging"
)

// Scheduler derives reminder timestamps from appointments and issues
// create/cancel reminder operations. Reminders are always created as a
// 24-hour + 2-hour pair, never individually.
type Scheduler struct {
	store   *Store
	channel Channel
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewScheduler creates a reminder scheduler. channel is fixed for every pair
// the scheduler creates.
func NewScheduler(store *Store, channel Channel, m *metrics.BookingMetrics, logger *logging.Logger) *Scheduler {
	if store == nil {
		panic("reminders: store required")
	}
	if channel == "" {
		channel = ChannelSMS
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, channel: channel, metrics: m, logger: logger}
}

// Schedule creates the pending 24h/2h pair for an appointment starting at
// startAt (UTC).
func (s *Scheduler) Schedule(ctx context.Context, practiceID string, appointmentID uuid.UUID, startAt time.Time) error {
	pair := [2]*Reminder{
		{
			AppointmentID: appointmentID,
			PracticeID:    practiceID,
			Kind:          Kind24Hour,
			ScheduledAt:   startAt.Add(-Kind24Hour.Lead()),
			Channel:       s.channel,
		},
		{
			AppointmentID: appointmentID,
			PracticeID:    practiceID,
			Kind:          Kind2Hour,
			ScheduledAt:   startAt.Add(-Kind2Hour.Lead()),
			Channel:       s.channel,
		},
	}

	if err := s.store.CreatePair(ctx, pair); err != nil {
		return fmt.Errorf("reminders: schedule: %w", err)
	}
	s.metrics.ObserveReminderPairs("scheduled", 1)
	s.logger.Info("reminder pair scheduled",
		"appointment_id", appointmentID,
		"practice_id", practiceID,
		"start_at", startAt.Format(time.RFC3339),
	)
	return nil
}

// CancelFor invalidates all pending reminders of one appointment so a stale
// reminder never fires against an obsolete time.
func (s *Scheduler) CancelFor(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	n, err := s.store.CancelPendingByAppointment(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel for appointment: %w", err)
	}
	s.metrics.ObserveReminderPairs("cancelled", pairsFromRows(n))
	return n, nil
}

// CancelForMany invalidates pending reminders across a series sweep.
func (s *Scheduler) CancelForMany(ctx context.Context, appointmentIDs []uuid.UUID) (int64, error) {
	n, err := s.store.CancelPendingByAppointments(ctx, appointmentIDs)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel for appointments: %w", err)
	}
	s.metrics.ObserveReminderPairs("cancelled", pairsFromRows(n))
	return n, nil
}

// pairsFromRows converts invalidated reminder rows to pairs. A pair whose
// 24h half already dispatched leaves one pending row, so round up.
func pairsFromRows(rows int64) int {
	return int((rows + 1) / 2)
}
