package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/practicekit/booking-engine/internal/observability/metrics"
	"github.com/practicekit/booking-engine/pkg/logging"
)

// SeriesEdit is the field-change set applied across a series. Nil fields are
// unchanged.
type SeriesEdit struct {
	StartTime       *MinuteOfDay
	DurationMinutes *int
	Room            *string
	Notes           *string
	Format          *Format
}

func (e *SeriesEdit) empty() bool {
	return e.StartTime == nil && e.DurationMinutes == nil && e.Room == nil && e.Notes == nil && e.Format == nil
}

// CascadeResult reports how much of the selection the sweep actually touched.
type CascadeResult struct {
	Selected int `json:"selected"`
	Updated  int `json:"updated"`
}

// SeriesCoordinator applies an edit or cancellation to every future,
// non-terminal member of a recurring series from a pivot date forward. The
// sweep is best-effort, row by row, with no cross-row transaction; the
// result carries actual-vs-expected counts and a PartialCascadeFailure
// surfaces any shortfall.
type SeriesCoordinator struct {
	store     *Store
	reminders ReminderScheduler
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewSeriesCoordinator creates a coordinator.
func NewSeriesCoordinator(store *Store, reminders ReminderScheduler, m *metrics.BookingMetrics, logger *logging.Logger) *SeriesCoordinator {
	if store == nil {
		panic("appointments: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SeriesCoordinator{store: store, reminders: reminders, metrics: m, logger: logger}
}

// EditFromDate applies the field-change set to every selected occurrence.
// The new end time is computed once from a template occurrence and applied
// identically to every row. pivot must be passed explicitly; the coordinator
// never reads an ambient "today".
func (c *SeriesCoordinator) EditFromDate(ctx context.Context, practiceID string, seriesID uuid.UUID, pivot time.Time, edit SeriesEdit) (*CascadeResult, error) {
	ctx, span := bookingTracer.Start(ctx, "series.edit")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID.String()))

	if edit.empty() {
		return nil, &ValidationError{Field: "changes", Message: "at least one field required"}
	}
	if edit.Format != nil && !edit.Format.Valid() {
		return nil, &ValidationError{Field: "format", Message: "must be in_person or telehealth"}
	}
	if edit.DurationMinutes != nil && *edit.DurationMinutes <= 0 {
		return nil, &ValidationError{Field: "duration_minutes", Message: "must be positive"}
	}

	selected, err := c.store.ListSeriesFrom(ctx, practiceID, seriesID, truncateToDay(pivot))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(selected) == 0 {
		return nil, ErrNotFound
	}

	// One template occurrence decides the new slot for every row.
	template := selected[0]
	newStart := template.StartTime
	if edit.StartTime != nil {
		newStart = *edit.StartTime
	}
	newDuration := template.DurationMinutes
	if edit.DurationMinutes != nil {
		newDuration = *edit.DurationMinutes
	}
	newEnd := newStart + MinuteOfDay(newDuration)
	if int(newEnd) > minutesPerDay {
		return nil, &ValidationError{Field: "duration_minutes", Message: "appointment runs past midnight"}
	}
	slotMoved := edit.StartTime != nil || edit.DurationMinutes != nil

	result := &CascadeResult{Selected: len(selected)}
	var firstErr error
	for i := range selected {
		occ := selected[i]
		occ.StartTime = newStart
		occ.DurationMinutes = newDuration
		occ.EndTime = newEnd
		if edit.Room != nil {
			occ.Room = edit.Room
		}
		if edit.Notes != nil {
			occ.Notes = edit.Notes
		}
		if edit.Format != nil {
			occ.Format = *edit.Format
		}
		if err := c.store.Update(ctx, &occ); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Error("series edit row failed", "series_id", seriesID, "appointment_id", occ.ID, "error", err)
			continue
		}
		result.Updated++
		if slotMoved {
			c.reissueReminders(ctx, &occ)
		}
	}

	c.metrics.ObserveCascadeRows("edit", "updated", result.Updated)
	c.metrics.ObserveCascadeRows("edit", "failed", result.Selected-result.Updated)
	c.logger.Info("series edit swept",
		"practice_id", practiceID,
		"series_id", seriesID,
		"pivot", truncateToDay(pivot).Format(time.DateOnly),
		"selected", result.Selected,
		"updated", result.Updated,
	)

	if result.Updated < result.Selected {
		return result, &PartialCascadeFailure{Selected: result.Selected, Updated: result.Updated, Err: firstErr}
	}
	return result, nil
}

// CancelFromDate cancels every selected occurrence and invalidates its
// reminders in the same sweep. Earlier or already-terminal members are left
// untouched.
func (c *SeriesCoordinator) CancelFromDate(ctx context.Context, practiceID string, seriesID uuid.UUID, pivot time.Time, reason string) (*CascadeResult, error) {
	ctx, span := bookingTracer.Start(ctx, "series.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID.String()))

	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required"}
	}

	selected, err := c.store.ListSeriesFrom(ctx, practiceID, seriesID, truncateToDay(pivot))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(selected) == 0 {
		return nil, ErrNotFound
	}

	result := &CascadeResult{Selected: len(selected)}
	var firstErr error
	cancelled := make([]uuid.UUID, 0, len(selected))
	for i := range selected {
		occ := &selected[i]
		if err := c.store.Cancel(ctx, occ.ID, reason); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Error("series cancel row failed", "series_id", seriesID, "appointment_id", occ.ID, "error", err)
			continue
		}
		result.Updated++
		cancelled = append(cancelled, occ.ID)
	}

	if c.reminders != nil && len(cancelled) > 0 {
		if _, err := c.reminders.CancelForMany(ctx, cancelled); err != nil {
			c.metrics.ObserveReminderFailure()
			c.logger.Error("series reminder invalidation failed", "series_id", seriesID, "error", err)
		}
	}

	c.metrics.ObserveCascadeRows("cancel", "updated", result.Updated)
	c.metrics.ObserveCascadeRows("cancel", "failed", result.Selected-result.Updated)
	c.logger.Info("series cancel swept",
		"practice_id", practiceID,
		"series_id", seriesID,
		"pivot", truncateToDay(pivot).Format(time.DateOnly),
		"selected", result.Selected,
		"updated", result.Updated,
	)

	if result.Updated < result.Selected {
		return result, &PartialCascadeFailure{Selected: result.Selected, Updated: result.Updated, Err: firstErr}
	}
	return result, nil
}

func (c *SeriesCoordinator) reissueReminders(ctx context.Context, appt *Appointment) {
	if c.reminders == nil {
		return
	}
	if _, err := c.reminders.CancelFor(ctx, appt.ID); err != nil {
		c.metrics.ObserveReminderFailure()
		c.logger.Error("series reminder invalidation failed", "appointment_id", appt.ID, "error", err)
		return
	}
	if err := c.reminders.Schedule(ctx, appt.PracticeID, appt.ID, appt.StartAt()); err != nil {
		c.metrics.ObserveReminderFailure()
		c.logger.Error("series reminder rescheduling failed", "appointment_id", appt.ID, "error", err)
	}
}
