package appointments

import (
	"context"
	"errors"
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

const apptColumns = `id, practice_id, patient_id, patient_name, date, start_minutes, end_minutes,
		duration_minutes, status, appointment_type, billing_code, format, room, notes,
		series_id, recurrence_pattern, cancellation_reason, created_at, updated_at`

// Store provides persistence for appointments and series aggregates.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert persists a new appointment row.
func (s *Store) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusScheduled
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, practice_id, patient_id, patient_name, date, start_minutes, end_minutes, duration_minutes, status, appointment_type, billing_code, format, room, notes, series_id, recurrence_pattern, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.PracticeID, a.PatientID, a.PatientName, a.Date, int(a.StartTime), int(a.EndTime),
		a.DurationMinutes, string(a.Status), a.AppointmentType, a.BillingCode, string(a.Format),
		a.Room, a.Notes, a.SeriesID, patternArg(a.Pattern), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// GetForPractice returns one appointment scoped to the practice.
func (s *Store) GetForPractice(ctx context.Context, practiceID string, id uuid.UUID) (*Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE practice_id = $1 AND id = $2`, practiceID, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	defer rows.Close()
	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, fmt.Errorf("appointments: get %s: %w", id, ErrNotFound)
	}
	return &appts[0], nil
}

// ListFilter narrows List to a date range, status, or patient.
type ListFilter struct {
	From      *time.Time
	To        *time.Time
	Status    *Status
	PatientID *uuid.UUID
}

// List returns appointments for a practice ordered by date then start time.
func (s *Store) List(ctx context.Context, practiceID string, filter ListFilter) ([]Appointment, error) {
	query := `
		SELECT ` + apptColumns + `
		FROM appointments
		WHERE practice_id = $1`
	args := []any{practiceID}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	query += " ORDER BY date ASC, start_minutes ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListActiveForDay returns rows counted for conflict detection: all
// appointments on the practice-day whose status is not cancelled or no_show,
// excluding the appointment being edited (uuid.Nil excludes nothing).
func (s *Store) ListActiveForDay(ctx context.Context, practiceID string, date time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE practice_id = $1 AND date = $2
		  AND status NOT IN ('cancelled', 'no_show')
		  AND id != $3
		ORDER BY start_minutes ASC`, practiceID, date, excludeID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list active for day: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Update rewrites the mutable fields of one appointment.
func (s *Store) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET date = $1, start_minutes = $2, end_minutes = $3, duration_minutes = $4,
		    room = $5, notes = $6, format = $7, updated_at = $8
		WHERE id = $9 AND practice_id = $10`,
		a.Date, int(a.StartTime), int(a.EndTime), a.DurationMinutes,
		a.Room, a.Notes, string(a.Format), a.UpdatedAt, a.ID, a.PracticeID,
	)
	if err != nil {
		return fmt.Errorf("appointments: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: update %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// UpdateStatus applies a lifecycle transition conditionally on the current
// status so concurrent transitions cannot clobber each other.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: update status %s: no row in status %s: %w", id, from, ErrNotFound)
	}
	return nil
}

// Cancel soft-cancels one appointment, recording the reason. Terminal rows
// are left untouched.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', cancellation_reason = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('cancelled', 'completed', 'no_show')`,
		reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("appointments: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointments: cancel %s: no cancellable row: %w", id, ErrNotFound)
	}
	return nil
}

// ListSeriesFrom returns the cascade selection: same series, date on or after
// the pivot, status not terminal-for-mutation (cancelled, completed, no_show).
func (s *Store) ListSeriesFrom(ctx context.Context, practiceID string, seriesID uuid.UUID, pivot time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE practice_id = $1 AND series_id = $2 AND date >= $3
		  AND status NOT IN ('cancelled', 'completed', 'no_show')
		ORDER BY date ASC, start_minutes ASC`, practiceID, seriesID, pivot)
	if err != nil {
		return nil, fmt.Errorf("appointments: list series from pivot: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ScheduleStats aggregates one practice's appointment counts by status.
type ScheduleStats struct {
	ScheduledCount int64 `json:"scheduled_count"`
	ConfirmedCount int64 `json:"confirmed_count"`
	CompletedCount int64 `json:"completed_count"`
	CancelledCount int64 `json:"cancelled_count"`
	NoShowCount    int64 `json:"no_show_count"`
}

// Stats returns aggregated appointment counts for the practice dashboard.
func (s *Store) Stats(ctx context.Context, practiceID string) (*ScheduleStats, error) {
	row := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('scheduled')) AS scheduled,
			COUNT(*) FILTER (WHERE status IN ('confirmed', 'checked_in', 'in_session')) AS confirmed,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*) FILTER (WHERE status = 'no_show') AS no_show
		FROM appointments
		WHERE practice_id = $1`, practiceID)

	var stats ScheduleStats
	err := row.Scan(&stats.ScheduledCount, &stats.ConfirmedCount, &stats.CompletedCount, &stats.CancelledCount, &stats.NoShowCount)
	if err != nil {
		return nil, fmt.Errorf("appointments: stats: %w", err)
	}
	return &stats, nil
}

// InsertSeries persists the aggregate for a recurring booking request.
func (s *Store) InsertSeries(ctx context.Context, series *Series) error {
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	series.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointment_series (id, practice_id, pattern, anchor_date, requested_count, end_date, materialized_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		series.ID, series.PracticeID, string(series.Pattern), series.AnchorDate,
		series.RequestedCount, series.EndDate, series.MaterializedCount, series.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert series: %w", err)
	}
	return nil
}

// SetSeriesMaterialized records how many occurrences were actually created,
// making a partially materialized series visible.
func (s *Store) SetSeriesMaterialized(ctx context.Context, seriesID uuid.UUID, count int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointment_series SET materialized_count = $1 WHERE id = $2`, count, seriesID)
	if err != nil {
		return fmt.Errorf("appointments: set series materialized: %w", err)
	}
	return nil
}

// GetSeries returns a series aggregate scoped to the practice.
func (s *Store) GetSeries(ctx context.Context, practiceID string, seriesID uuid.UUID) (*Series, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, practice_id, pattern, anchor_date, requested_count, end_date, materialized_count, created_at
		FROM appointment_series
		WHERE practice_id = $1 AND id = $2`, practiceID, seriesID)

	var series Series
	var pattern string
	err := row.Scan(&series.ID, &series.PracticeID, &pattern, &series.AnchorDate,
		&series.RequestedCount, &series.EndDate, &series.MaterializedCount, &series.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointments: get series %s: %w", seriesID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get series: %w", err)
	}
	series.Pattern = Pattern(pattern)
	return &series, nil
}

func patternArg(p *Pattern) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		var a Appointment
		var status, format string
		var pattern *string
		var start, end int
		err := rows.Scan(
			&a.ID, &a.PracticeID, &a.PatientID, &a.PatientName, &a.Date, &start, &end,
			&a.DurationMinutes, &status, &a.AppointmentType, &a.BillingCode, &format,
			&a.Room, &a.Notes, &a.SeriesID, &pattern, &a.CancelReason,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.StartTime = MinuteOfDay(start)
		a.EndTime = MinuteOfDay(end)
		a.Status = Status(status)
		a.Format = Format(format)
		if pattern != nil {
			p := Pattern(*pattern)
			a.Pattern = &p
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
