package reminders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicekit/booking-engine/internal/observability/metrics"
)

func TestScheduleCreates24hAnd2hPair(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scheduler := NewScheduler(NewStore(mock), ChannelSMS, nil, nil)
	apptID := uuid.New()
	startAt := time.Date(2025, time.April, 7, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO reminders").
		WithArgs(
			pgxmock.AnyArg(), apptID, "prac_1", "24_hour", startAt.Add(-24*time.Hour), "sms", "pending", pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), apptID, "prac_1", "2_hour", startAt.Add(-2*time.Hour), "sms", "pending", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, scheduler.Schedule(context.Background(), "prac_1", apptID, startAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleDefaultsChannel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scheduler := NewScheduler(NewStore(mock), "", nil, nil)
	assert.Equal(t, ChannelSMS, scheduler.channel)
}

func TestCancelForInvalidatesOnlyThatAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scheduler := NewScheduler(NewStore(mock), ChannelSMS, nil, nil)
	apptID := uuid.New()

	mock.ExpectExec("UPDATE reminders").
		WithArgs(pgxmock.AnyArg(), apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := scheduler.CancelFor(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelForManySweep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	scheduler := NewScheduler(NewStore(mock), ChannelSMS, nil, nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	mock.ExpectExec("UPDATE reminders").
		WithArgs(pgxmock.AnyArg(), ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 6))

	n, err := scheduler.CancelForMany(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestCancelForManyCountsOnePairPerAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := prometheus.NewRegistry()
	scheduler := NewScheduler(NewStore(mock), ChannelSMS, metrics.NewBookingMetrics(reg), nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	mock.ExpectExec("UPDATE reminders").
		WithArgs(pgxmock.AnyArg(), ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 6))

	_, err = scheduler.CancelForMany(context.Background(), ids)
	require.NoError(t, err)

	expected := `
# HELP bookingengine_reminders_pairs_total Reminder pairs scheduled or cancelled
# TYPE bookingengine_reminders_pairs_total counter
bookingengine_reminders_pairs_total{operation="cancelled"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"bookingengine_reminders_pairs_total"))
}

func TestCancelForCountsHalfDispatchedPair(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := prometheus.NewRegistry()
	scheduler := NewScheduler(NewStore(mock), ChannelSMS, metrics.NewBookingMetrics(reg), nil)
	apptID := uuid.New()

	// 24h half already dispatched, only the 2h row is still pending.
	mock.ExpectExec("UPDATE reminders").
		WithArgs(pgxmock.AnyArg(), apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := scheduler.CancelFor(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expected := `
# HELP bookingengine_reminders_pairs_total Reminder pairs scheduled or cancelled
# TYPE bookingengine_reminders_pairs_total counter
bookingengine_reminders_pairs_total{operation="cancelled"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"bookingengine_reminders_pairs_total"))
}
