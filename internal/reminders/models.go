package reminders

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which member of the reminder pair this is.
type Kind string

const (
	Kind24Hour Kind = "24_hour"
	Kind2Hour  Kind = "2_hour"
)

// Lead returns how long before the appointment start this kind fires.
func (k Kind) Lead() time.Duration {
	if k == Kind2Hour {
		return 2 * time.Hour
	}
	return 24 * time.Hour
}

// Channel specifies how the reminder is delivered. Fixed at creation.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Status tracks the lifecycle of a reminder.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusSent      Status = "sent"
)

// Reminder is one half of the pair scheduled for an appointment. Its
// ScheduledAt is always derivable from the appointment's current start; when
// the appointment moves or cancels the pending pair is invalidated.
type Reminder struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PracticeID    string     `json:"practice_id"`
	Kind          Kind       `json:"kind"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Channel       Channel    `json:"channel"`
	Status        Status     `json:"status"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
