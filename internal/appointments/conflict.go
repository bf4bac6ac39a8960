package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// dayLister is the slice of the store the detector needs: active rows for one
// practice-day, optionally excluding the appointment being edited.
type dayLister interface {
	ListActiveForDay(ctx context.Context, practiceID string, date time.Time, excludeID uuid.UUID) ([]Appointment, error)
}

// ConflictDetector performs the read-only interval-overlap check against
// existing bookings. It never writes.
type ConflictDetector struct {
	store dayLister
}

// NewConflictDetector creates a detector over the given store.
func NewConflictDetector(store dayLister) *ConflictDetector {
	return &ConflictDetector{store: store}
}

// Check returns every non-terminal appointment on the practice-day whose
// [start, end) interval intersects the candidate. Pass uuid.Nil as excludeID
// for new bookings. An empty result means the slot is clear.
func (d *ConflictDetector) Check(ctx context.Context, practiceID string, date time.Time, start, end MinuteOfDay, excludeID uuid.UUID) ([]ConflictingAppointment, error) {
	existing, err := d.store.ListActiveForDay(ctx, practiceID, date, excludeID)
	if err != nil {
		return nil, fmt.Errorf("appointments: conflict check: %w", err)
	}

	var conflicts []ConflictingAppointment
	for i := range existing {
		e := &existing[i]
		if Overlaps(e.StartTime, e.EndTime, start, end) {
			conflicts = append(conflicts, ConflictingAppointment{
				ID:          e.ID,
				PatientName: e.PatientName,
				Date:        e.Date,
				StartTime:   e.StartTime,
				EndTime:     e.EndTime,
			})
		}
	}
	return conflicts, nil
}

// Overlaps reports whether two half-open [start, end) intervals intersect.
// Back-to-back bookings sharing a boundary instant do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd MinuteOfDay) bool {
	return aStart < bEnd && aEnd > bStart
}
