package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reminderColumns = `id, appointment_id, practice_id, kind, scheduled_at, channel, status,
		sent_at, cancelled_at, created_at, updated_at`

// Store provides persistence for reminders.
type Store struct {
	db DB
}

// NewStore creates a reminder store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// CreatePair inserts both members of a reminder pair in one statement, so an
// appointment never ends up with half a pair.
func (s *Store) CreatePair(ctx context.Context, pair [2]*Reminder) error {
	now := time.Now().UTC()
	for _, r := range pair {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		if r.Status == "" {
			r.Status = StatusPending
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, appointment_id, practice_id, kind, scheduled_at, channel, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9),
		       ($10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		pair[0].ID, pair[0].AppointmentID, pair[0].PracticeID, string(pair[0].Kind), pair[0].ScheduledAt, string(pair[0].Channel), string(pair[0].Status), pair[0].CreatedAt, pair[0].UpdatedAt,
		pair[1].ID, pair[1].AppointmentID, pair[1].PracticeID, string(pair[1].Kind), pair[1].ScheduledAt, string(pair[1].Channel), string(pair[1].Status), pair[1].CreatedAt, pair[1].UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reminders: create pair: %w", err)
	}
	return nil
}

// ListByAppointment returns all reminders for one appointment.
func (s *Store) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_at ASC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list by appointment: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// CancelPendingByAppointment invalidates the pending pair for one
// appointment. Returns the number of reminders cancelled.
func (s *Store) CancelPendingByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'cancelled', cancelled_at = $1, updated_at = $1
		WHERE appointment_id = $2 AND status = 'pending'`, now, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel pending by appointment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelPendingByAppointments invalidates pending reminders for a whole
// series sweep in one statement.
func (s *Store) CancelPendingByAppointments(ctx context.Context, appointmentIDs []uuid.UUID) (int64, error) {
	if len(appointmentIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'cancelled', cancelled_at = $1, updated_at = $1
		WHERE appointment_id = ANY($2) AND status = 'pending'`, now, appointmentIDs)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel pending by appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDue returns pending reminders whose scheduled_at is on or before asOf.
func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkSent transitions a reminder from pending to sent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'sent', sent_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending'`, now, id)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark sent: no pending reminder with id %s", id)
	}
	return nil
}

func scanReminders(rows pgx.Rows) ([]Reminder, error) {
	var result []Reminder
	for rows.Next() {
		var r Reminder
		var kind, channel, status string
		err := rows.Scan(
			&r.ID, &r.AppointmentID, &r.PracticeID, &kind, &r.ScheduledAt,
			&channel, &status, &r.SentAt, &r.CancelledAt, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		r.Kind = Kind(kind)
		r.Channel = Channel(channel)
		r.Status = Status(status)
		result = append(result, r)
	}
	return result, rows.Err()
}
