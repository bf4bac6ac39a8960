package appointments

import (
	"context"

	"github.com/google/uuid"
)

// allowedTransitions is the full lifecycle table. Cancellation is not listed
// here; any non-terminal status may cancel via an explicit cancel action.
var allowedTransitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed},
	StatusConfirmed: {StatusCheckedIn},
	StatusCheckedIn: {StatusInSession, StatusNoShow},
	StatusInSession: {StatusCompleted},
}

// CanTransition reports whether the forward transition from -> to is allowed.
// Transitions to cancelled go through CanCancel instead.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether an appointment in the given status may be
// soft-cancelled.
func CanCancel(from Status) bool {
	return from.Valid() && !from.Terminal()
}

// SessionOpener is the downstream clinical-session collaborator invoked when
// an appointment enters in_session.
type SessionOpener interface {
	OpenSession(ctx context.Context, practiceID string, appointmentID uuid.UUID, patientID uuid.UUID) error
}

// TransitionGuard validates lifecycle transitions and fires their side
// effects. The table itself is static; the guard only adds collaborators.
type TransitionGuard struct {
	sessions SessionOpener
}

// NewTransitionGuard creates a guard. sessions may be nil when no clinical
// session system is wired.
func NewTransitionGuard(sessions SessionOpener) *TransitionGuard {
	return &TransitionGuard{sessions: sessions}
}

// Check validates the transition without applying it.
func (g *TransitionGuard) Check(from, to Status) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(to)}
	}
	if to == StatusCancelled {
		if !CanCancel(from) {
			return &InvalidTransitionError{From: from, To: to}
		}
		return nil
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// AfterTransition runs the side effect attached to a completed transition.
// Side-effect failures are returned so callers can log them; the status
// change itself has already been persisted.
func (g *TransitionGuard) AfterTransition(ctx context.Context, appt *Appointment, to Status) error {
	if to == StatusInSession && g.sessions != nil {
		return g.sessions.OpenSession(ctx, appt.PracticeID, appt.ID, appt.PatientID)
	}
	return nil
}
