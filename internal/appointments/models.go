package appointments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCheckedIn Status = "checked_in"
	StatusInSession Status = "in_session"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInSession,
		StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// Pattern describes how a recurring series repeats.
type Pattern string

const (
	PatternWeekly   Pattern = "weekly"
	PatternBiweekly Pattern = "biweekly"
	PatternMonthly  Pattern = "monthly"
)

// Valid reports whether p is a supported recurrence pattern.
func (p Pattern) Valid() bool {
	switch p {
	case PatternWeekly, PatternBiweekly, PatternMonthly:
		return true
	}
	return false
}

// Format specifies how the appointment is delivered.
type Format string

const (
	FormatInPerson   Format = "in_person"
	FormatTelehealth Format = "telehealth"
)

// Valid reports whether f is a known delivery format.
func (f Format) Valid() bool {
	return f == FormatInPerson || f == FormatTelehealth
}

// MinuteOfDay is a clock time expressed as minutes since midnight.
// It marshals as "HH:MM".
type MinuteOfDay int

// ParseClock converts "HH:MM" into a MinuteOfDay.
func ParseClock(s string) (MinuteOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("appointments: invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("appointments: invalid clock time %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("appointments: invalid clock time %q", s)
	}
	return MinuteOfDay(hour*60 + minute), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// At anchors the clock time on a calendar date, returning the UTC instant.
func (m MinuteOfDay) At(date time.Time) time.Time {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(time.Duration(m) * time.Minute)
}

func (m MinuteOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MinuteOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Appointment is one booked visit on a practice calendar.
// Invariant: EndTime = StartTime + DurationMinutes.
type Appointment struct {
	ID              uuid.UUID   `json:"id"`
	PracticeID      string      `json:"practice_id"`
	PatientID       uuid.UUID   `json:"patient_id"`
	PatientName     string      `json:"patient_name"`
	Date            time.Time   `json:"date"`
	StartTime       MinuteOfDay `json:"start_time"`
	EndTime         MinuteOfDay `json:"end_time"`
	DurationMinutes int         `json:"duration_minutes"`
	Status          Status      `json:"status"`
	AppointmentType string      `json:"appointment_type"`
	BillingCode     *string     `json:"billing_code,omitempty"`
	Format          Format      `json:"format"`
	Room            *string     `json:"room,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	SeriesID        *uuid.UUID  `json:"series_id,omitempty"`
	Pattern         *Pattern    `json:"recurrence_pattern,omitempty"`
	CancelReason    *string     `json:"cancellation_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// StartAt returns the appointment's start as a UTC instant.
func (a *Appointment) StartAt() time.Time {
	return a.StartTime.At(a.Date)
}

// Series is the aggregate for one recurring booking request. All
// appointments generated from it carry its id; MaterializedCount below
// RequestedCount exposes a partially materialized series.
type Series struct {
	ID                uuid.UUID  `json:"id"`
	PracticeID        string     `json:"practice_id"`
	Pattern           Pattern    `json:"pattern"`
	AnchorDate        time.Time  `json:"anchor_date"`
	RequestedCount    int        `json:"requested_count"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	MaterializedCount int        `json:"materialized_count"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ConflictingAppointment is the slice of an existing booking returned to
// callers when a candidate interval overlaps it.
type ConflictingAppointment struct {
	ID          uuid.UUID   `json:"id"`
	PatientName string      `json:"patient_name"`
	Date        time.Time   `json:"date"`
	StartTime   MinuteOfDay `json:"start_time"`
	EndTime     MinuteOfDay `json:"end_time"`
}
