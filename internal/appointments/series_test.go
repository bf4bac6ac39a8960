package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*SeriesCoordinator, pgxmock.PgxPoolIface, *stubReminders) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	rem := &stubReminders{}
	coord := NewSeriesCoordinator(NewStore(mock), rem, nil, nil)
	return coord, mock, rem
}

func seriesRows(seriesID uuid.UUID, dates ...time.Time) *pgxmock.Rows {
	rows := apptRows()
	now := time.Now().UTC()
	for _, d := range dates {
		id := uuid.New()
		pattern := "weekly"
		rows = rows.AddRow(
			id, "prac_1", uuid.New(), "Jordan Reyes", d, 540, 600,
			60, "scheduled", "consult", (*string)(nil), "in_person", (*string)(nil), (*string)(nil),
			&seriesID, &pattern, (*string)(nil), now, now,
		)
	}
	return rows
}

func TestCancelFromDateSweepsSelection(t *testing.T) {
	coord, mock, rem := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(seriesRows(seriesID, day(2025, time.May, 5), day(2025, time.May, 12), day(2025, time.May, 19)))
	for i := 0; i < 3; i++ {
		mock.ExpectExec("UPDATE appointments").
			WithArgs(anyArgs(3)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}

	result, err := coord.CancelFromDate(context.Background(), "prac_1", seriesID, pivot, "clinic closure")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Selected)
	assert.Equal(t, 3, result.Updated)
	require.Len(t, rem.sweeps, 1)
	assert.Len(t, rem.sweeps[0], 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelFromDateNoFutureMembers(t *testing.T) {
	coord, mock, _ := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(apptRows())

	_, err := coord.CancelFromDate(context.Background(), "prac_1", seriesID, pivot, "clinic closure")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelFromDateRequiresReason(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.CancelFromDate(context.Background(), "prac_1", uuid.New(), day(2025, time.May, 1), "")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCancelFromDatePartialFailure(t *testing.T) {
	coord, mock, rem := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(seriesRows(seriesID, day(2025, time.May, 5), day(2025, time.May, 12)))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	// Second row already moved to a terminal status by a concurrent writer.
	mock.ExpectExec("UPDATE appointments").
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	result, err := coord.CancelFromDate(context.Background(), "prac_1", seriesID, pivot, "clinic closure")
	var partial *PartialCascadeFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Selected)
	assert.Equal(t, 1, partial.Updated)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Updated)
	// Only the row that actually cancelled gets its reminders invalidated.
	require.Len(t, rem.sweeps, 1)
	assert.Len(t, rem.sweeps[0], 1)
}

func TestEditFromDateAppliesTemplateSlot(t *testing.T) {
	coord, mock, rem := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(seriesRows(seriesID, day(2025, time.May, 5), day(2025, time.May, 12)))
	for i := 0; i < 2; i++ {
		mock.ExpectExec("UPDATE appointments").
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}

	newStart := MinuteOfDay(600)
	newDuration := 90
	result, err := coord.EditFromDate(context.Background(), "prac_1", seriesID, pivot, SeriesEdit{
		StartTime:       &newStart,
		DurationMinutes: &newDuration,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Selected)
	assert.Equal(t, 2, result.Updated)
	// Slot moved: each row's pair is invalidated and reissued.
	assert.Len(t, rem.cancelled, 2)
	assert.Len(t, rem.scheduled, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditFromDateRoomOnlyKeepsReminders(t *testing.T) {
	coord, mock, rem := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(seriesRows(seriesID, day(2025, time.May, 5)))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(anyArgs(10)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	room := "Room 2"
	result, err := coord.EditFromDate(context.Background(), "prac_1", seriesID, pivot, SeriesEdit{Room: &room})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, rem.cancelled)
	assert.Empty(t, rem.scheduled)
}

func TestEditFromDateEmptyChangeSet(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.EditFromDate(context.Background(), "prac_1", uuid.New(), day(2025, time.May, 1), SeriesEdit{})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestEditFromDatePastMidnight(t *testing.T) {
	coord, mock, _ := newTestCoordinator(t)
	seriesID := uuid.New()
	pivot := day(2025, time.May, 1)

	mock.ExpectQuery("SELECT .* FROM appointments").
		WithArgs("prac_1", seriesID, pivot).
		WillReturnRows(seriesRows(seriesID, day(2025, time.May, 5)))

	newStart := MinuteOfDay(23 * 60)
	newDuration := 120
	_, err := coord.EditFromDate(context.Background(), "prac_1", seriesID, pivot, SeriesEdit{
		StartTime:       &newStart,
		DurationMinutes: &newDuration,
	})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}
