package appointments

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that no appointment or series row matched. Handlers map
// it to 404, distinct from validation failures.
var ErrNotFound = errors.New("appointments: not found")

// ValidationError rejects a request before any store access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("appointments: validation: %s: %s", e.Field, e.Message)
}

// ConflictError carries the full conflicting-appointment list so the caller
// can present alternatives.
type ConflictError struct {
	Conflicts []ConflictingAppointment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("appointments: %d conflicting appointment(s) in slot", len(e.Conflicts))
}

// InvalidTransitionError rejects a lifecycle transition not present in the
// allowed-transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("appointments: invalid status transition %s -> %s", e.From, e.To)
}

// PartialCascadeFailure reports a series-wide edit/cancel where only some of
// the selected rows succeeded. Updated is the count actually written.
type PartialCascadeFailure struct {
	Selected int
	Updated  int
	Err      error
}

func (e *PartialCascadeFailure) Error() string {
	return fmt.Sprintf("appointments: series cascade updated %d of %d rows: %v", e.Updated, e.Selected, e.Err)
}

func (e *PartialCascadeFailure) Unwrap() error { return e.Err }
