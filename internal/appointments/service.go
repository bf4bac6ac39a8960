package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/practicekit/booking-engine/internal/observability/metrics"
	"github.com/practicekit/booking-engine/pkg/logging"
)

var bookingTracer = otel.Tracer("bookingengine.internal.appointments")

const minutesPerDay = 24 * 60

// ReminderScheduler is the reminder subsystem as the booking flow sees it.
// Failures from it are logged, never surfaced: a booking succeeds even when
// its reminders could not be written.
type ReminderScheduler interface {
	Schedule(ctx context.Context, practiceID string, appointmentID uuid.UUID, startAt time.Time) error
	CancelFor(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	CancelForMany(ctx context.Context, appointmentIDs []uuid.UUID) (int64, error)
}

// Service orchestrates booking requests: conflict check, persist, reminders,
// recurrence expansion.
type Service struct {
	store     *Store
	detector  *ConflictDetector
	guard     *TransitionGuard
	reminders ReminderScheduler
	lock      SlotLock
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewService constructs the booking service. lock may be nil, in which case
// the conflict check and insert run unserialized.
func NewService(store *Store, detector *ConflictDetector, guard *TransitionGuard, reminders ReminderScheduler, lock SlotLock, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if detector == nil {
		detector = NewConflictDetector(store)
	}
	if guard == nil {
		guard = NewTransitionGuard(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:     store,
		detector:  detector,
		guard:     guard,
		reminders: reminders,
		lock:      lock,
		metrics:   m,
		logger:    logger,
	}
}

// Recurrence is the optional recurring block on a booking request.
type Recurrence struct {
	Pattern     Pattern
	Occurrences int
	EndDate     *time.Time
}

// CreateBookingInput carries one booking request.
type CreateBookingInput struct {
	PatientID           uuid.UUID
	PatientName         string
	Date                time.Time
	StartTime           MinuteOfDay
	DurationMinutes     int
	AppointmentType     string
	BillingCode         *string
	Format              Format
	Room                *string
	Notes               *string
	Recurrence          *Recurrence
	BypassConflictCheck bool
}

// BookingResult is the created appointment plus, for recurring requests, the
// series aggregate and every materialized occurrence.
type BookingResult struct {
	Appointment *Appointment  `json:"appointment"`
	Series      *Series       `json:"series,omitempty"`
	Occurrences []Appointment `json:"occurrences,omitempty"`
}

func (in *CreateBookingInput) validate() error {
	if in.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Message: "required"}
	}
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "required"}
	}
	if in.DurationMinutes <= 0 {
		return &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	}
	if int(in.StartTime)+in.DurationMinutes > minutesPerDay {
		return &ValidationError{Field: "duration_minutes", Message: "appointment runs past midnight"}
	}
	if in.AppointmentType == "" {
		return &ValidationError{Field: "appointment_type", Message: "required"}
	}
	if in.Format == "" {
		in.Format = FormatInPerson
	}
	if !in.Format.Valid() {
		return &ValidationError{Field: "format", Message: "must be in_person or telehealth"}
	}
	if r := in.Recurrence; r != nil {
		if !r.Pattern.Valid() {
			return &ValidationError{Field: "recurrence.pattern", Message: "must be weekly, biweekly or monthly"}
		}
		if r.Occurrences <= 0 && r.EndDate == nil {
			return &ValidationError{Field: "recurrence", Message: "occurrence count or end date required"}
		}
		if r.Occurrences > MaxOccurrences {
			return &ValidationError{Field: "recurrence.occurrences", Message: fmt.Sprintf("must be at most %d", MaxOccurrences)}
		}
	}
	return nil
}

// Create books one appointment, or the whole series when the request
// recurs. Conflict detection covers the anchor; generated occurrences follow
// the original booking's slot on later dates.
func (s *Service) Create(ctx context.Context, practiceID string, in CreateBookingInput) (*BookingResult, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.practice_id", practiceID),
		attribute.Bool("booking.recurring", in.Recurrence != nil),
	)
	started := time.Now()
	defer func() { s.metrics.ObserveBookingLatency(time.Since(started).Seconds()) }()

	if practiceID == "" {
		return nil, &ValidationError{Field: "practice_id", Message: "required"}
	}
	if err := in.validate(); err != nil {
		s.metrics.ObserveBooking("invalid", in.Recurrence != nil)
		return nil, err
	}

	date := truncateToDay(in.Date)
	end := in.StartTime + MinuteOfDay(in.DurationMinutes)

	if s.lock != nil {
		release, err := s.acquireSlot(ctx, practiceID, date)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		defer release()
	}

	if !in.BypassConflictCheck {
		conflicts, err := s.detector.Check(ctx, practiceID, date, in.StartTime, end, uuid.Nil)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(conflicts) > 0 {
			s.metrics.ObserveConflict()
			s.metrics.ObserveBooking("conflict", in.Recurrence != nil)
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	appt := &Appointment{
		PracticeID:      practiceID,
		PatientID:       in.PatientID,
		PatientName:     in.PatientName,
		Date:            date,
		StartTime:       in.StartTime,
		EndTime:         end,
		DurationMinutes: in.DurationMinutes,
		Status:          StatusScheduled,
		AppointmentType: in.AppointmentType,
		BillingCode:     in.BillingCode,
		Format:          in.Format,
		Room:            in.Room,
		Notes:           in.Notes,
	}

	result := &BookingResult{Appointment: appt}

	if in.Recurrence != nil {
		series := &Series{
			PracticeID:     practiceID,
			Pattern:        in.Recurrence.Pattern,
			AnchorDate:     date,
			RequestedCount: in.Recurrence.Occurrences,
			EndDate:        in.Recurrence.EndDate,
		}
		if err := s.store.InsertSeries(ctx, series); err != nil {
			span.RecordError(err)
			return nil, err
		}
		appt.SeriesID = &series.ID
		pattern := in.Recurrence.Pattern
		appt.Pattern = &pattern
		result.Series = series
	}

	if err := s.store.Insert(ctx, appt); err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking("error", in.Recurrence != nil)
		return nil, err
	}
	s.scheduleReminders(ctx, appt)

	if in.Recurrence != nil {
		occurrences := s.materializeSeries(ctx, appt, result.Series, *in.Recurrence)
		result.Occurrences = occurrences
	}

	s.metrics.ObserveBooking("created", in.Recurrence != nil)
	s.logger.Info("booking created",
		"practice_id", practiceID,
		"appointment_id", appt.ID,
		"date", date.Format(time.DateOnly),
		"start", appt.StartTime.String(),
		"recurring", in.Recurrence != nil,
	)
	return result, nil
}

// materializeSeries expands the recurrence and persists one appointment per
// generated date, each with its reminder pair. Failures skip the occurrence
// and the series records how many actually materialized.
func (s *Service) materializeSeries(ctx context.Context, anchor *Appointment, series *Series, rec Recurrence) []Appointment {
	dates, err := ExpandRecurrence(series.AnchorDate, rec.Pattern, RecurrenceBound{
		Occurrences: rec.Occurrences,
		EndDate:     rec.EndDate,
	})
	if err != nil {
		// Pattern and bound were validated up front; reaching this means a bug.
		s.logger.Error("series expansion failed", "series_id", series.ID, "error", err)
		return nil
	}

	occurrences := make([]Appointment, 0, len(dates))
	for _, date := range dates {
		occ := *anchor
		occ.ID = uuid.Nil
		occ.Date = date
		if err := s.store.Insert(ctx, &occ); err != nil {
			s.logger.Error("series occurrence insert failed",
				"series_id", series.ID,
				"date", date.Format(time.DateOnly),
				"error", err,
			)
			continue
		}
		s.scheduleReminders(ctx, &occ)
		occurrences = append(occurrences, occ)
	}

	// Anchor counts toward the materialized total.
	series.MaterializedCount = len(occurrences) + 1
	if err := s.store.SetSeriesMaterialized(ctx, series.ID, series.MaterializedCount); err != nil {
		s.logger.Error("series materialized count update failed", "series_id", series.ID, "error", err)
	}
	return occurrences
}

// acquireSlot takes the practice-day lease, retrying briefly under
// contention before giving up.
func (s *Service) acquireSlot(ctx context.Context, practiceID string, date time.Time) (func(), error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		release, err := s.lock.Acquire(ctx, practiceID, date)
		if err == nil {
			return release, nil
		}
		lastErr = err
		if !errors.Is(err, ErrSlotBusy) {
			// Redis trouble: fall back to the unguarded path rather than
			// refuse bookings.
			s.logger.Warn("slot lock unavailable, proceeding unguarded", "error", err)
			return func() {}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// Get returns one appointment scoped to the practice.
func (s *Service) Get(ctx context.Context, practiceID string, id uuid.UUID) (*Appointment, error) {
	return s.store.GetForPractice(ctx, practiceID, id)
}

// List returns the practice schedule with optional filters.
func (s *Service) List(ctx context.Context, practiceID string, filter ListFilter) ([]Appointment, error) {
	return s.store.List(ctx, practiceID, filter)
}

// Stats returns appointment counts by status for the practice.
func (s *Service) Stats(ctx context.Context, practiceID string) (*ScheduleStats, error) {
	return s.store.Stats(ctx, practiceID)
}

// GetSeries returns the series aggregate, exposing requested versus
// materialized occurrence counts.
func (s *Service) GetSeries(ctx context.Context, practiceID string, seriesID uuid.UUID) (*Series, error) {
	return s.store.GetSeries(ctx, practiceID, seriesID)
}

// EditInput carries a single-appointment edit; nil fields are unchanged.
type EditInput struct {
	Date                *time.Time
	StartTime           *MinuteOfDay
	DurationMinutes     *int
	Room                *string
	Notes               *string
	Format              *Format
	BypassConflictCheck bool
}

// Edit applies a field subset to one appointment, re-running the conflict
// check when the slot moves, and reissuing reminders when the start changes.
func (s *Service) Edit(ctx context.Context, practiceID string, id uuid.UUID, in EditInput) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.edit")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	appt, err := s.store.GetForPractice(ctx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, &ValidationError{Field: "status", Message: "appointment is " + string(appt.Status)}
	}
	if in.Format != nil && !in.Format.Valid() {
		return nil, &ValidationError{Field: "format", Message: "must be in_person or telehealth"}
	}

	slotMoved := false
	if in.Date != nil {
		appt.Date = truncateToDay(*in.Date)
		slotMoved = true
	}
	if in.StartTime != nil {
		appt.StartTime = *in.StartTime
		slotMoved = true
	}
	if in.DurationMinutes != nil {
		if *in.DurationMinutes <= 0 {
			return nil, &ValidationError{Field: "duration_minutes", Message: "must be positive"}
		}
		appt.DurationMinutes = *in.DurationMinutes
		slotMoved = true
	}
	appt.EndTime = appt.StartTime + MinuteOfDay(appt.DurationMinutes)
	if int(appt.EndTime) > minutesPerDay {
		return nil, &ValidationError{Field: "duration_minutes", Message: "appointment runs past midnight"}
	}
	if in.Room != nil {
		appt.Room = in.Room
	}
	if in.Notes != nil {
		appt.Notes = in.Notes
	}
	if in.Format != nil {
		appt.Format = *in.Format
	}

	if slotMoved && !in.BypassConflictCheck {
		conflicts, err := s.detector.Check(ctx, practiceID, appt.Date, appt.StartTime, appt.EndTime, appt.ID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(conflicts) > 0 {
			s.metrics.ObserveConflict()
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	if err := s.store.Update(ctx, appt); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if slotMoved {
		s.reissueReminders(ctx, appt)
	}

	s.logger.Info("booking updated", "practice_id", practiceID, "appointment_id", appt.ID, "slot_moved", slotMoved)
	return appt, nil
}

// Cancel soft-cancels one appointment and invalidates its pending reminders.
func (s *Service) Cancel(ctx context.Context, practiceID string, id uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))

	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required"}
	}
	appt, err := s.store.GetForPractice(ctx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(appt.Status, StatusCancelled); err != nil {
		s.metrics.ObserveTransition(string(StatusCancelled), "rejected")
		return nil, err
	}

	if err := s.store.Cancel(ctx, id, reason); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveTransition(string(StatusCancelled), "accepted")

	if s.reminders != nil {
		if _, err := s.reminders.CancelFor(ctx, id); err != nil {
			s.metrics.ObserveReminderFailure()
			s.logger.Error("reminder invalidation failed after cancel", "appointment_id", id, "error", err)
		}
	}

	appt.Status = StatusCancelled
	appt.CancelReason = &reason
	s.logger.Info("booking cancelled", "practice_id", practiceID, "appointment_id", id, "reason", reason)
	return appt, nil
}

// Transition applies one lifecycle step through the guard. Cancellation goes
// through Cancel, which records a reason.
func (s *Service) Transition(ctx context.Context, practiceID string, id uuid.UUID, to Status) (*Appointment, error) {
	if to == StatusCancelled {
		return nil, &ValidationError{Field: "status", Message: "use the cancel operation"}
	}
	appt, err := s.store.GetForPractice(ctx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(appt.Status, to); err != nil {
		s.metrics.ObserveTransition(string(to), "rejected")
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, id, appt.Status, to); err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(to), "accepted")

	if err := s.guard.AfterTransition(ctx, appt, to); err != nil {
		// Status is already persisted; downstream side effects degrade loudly
		// but do not roll it back.
		s.logger.Error("transition side effect failed", "appointment_id", id, "to", string(to), "error", err)
	}

	appt.Status = to
	s.logger.Info("status transition", "practice_id", practiceID, "appointment_id", id, "to", string(to))
	return appt, nil
}

func (s *Service) scheduleReminders(ctx context.Context, appt *Appointment) {
	if s.reminders == nil {
		return
	}
	if err := s.reminders.Schedule(ctx, appt.PracticeID, appt.ID, appt.StartAt()); err != nil {
		s.metrics.ObserveReminderFailure()
		s.logger.Error("reminder scheduling failed", "appointment_id", appt.ID, "error", err)
	}
}

func (s *Service) reissueReminders(ctx context.Context, appt *Appointment) {
	if s.reminders == nil {
		return
	}
	if _, err := s.reminders.CancelFor(ctx, appt.ID); err != nil {
		s.metrics.ObserveReminderFailure()
		s.logger.Error("reminder invalidation failed after reschedule", "appointment_id", appt.ID, "error", err)
		return
	}
	s.scheduleReminders(ctx, appt)
}
