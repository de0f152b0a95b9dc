package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-wizard/internal/booking"
	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// Thursday morning before the test bookings.
var fixedNow = time.Date(2025, 2, 27, 8, 0, 0, 0, time.UTC)

func newTestDirectory(t *testing.T) (*Directory, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	d := New(mock, Config{
		DateWindow: 7,
		Clock:      func() time.Time { return fixedNow },
		Logger:     logging.Discard(),
	})
	return d, mock
}

func stage(t *testing.T, name string) wizard.Stage {
	t.Helper()
	st, ok := booking.NewGraph().ByName(name)
	require.True(t, ok)
	return st
}

func TestFetchDepartmentsAndDoctors(t *testing.T) {
	d, mock := newTestDirectory(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, name FROM departments").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow("Cardiology", "Cardiology").
			AddRow("Neurology", "Neurology"))
	items, err := d.FetchCandidates(ctx, stage(t, "department"), nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	mock.ExpectQuery("FROM doctors").
		WithArgs("Cardiology").
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name"}).AddRow(int64(7), "Dr. House"))
	items, err = d.FetchCandidates(ctx, stage(t, "doctor"), wizard.Upstream{
		"department": {Value: "Cardiology"},
	})
	require.NoError(t, err)
	assert.Equal(t, []wizard.Candidate{{Value: "7", Label: "Dr. House"}}, items)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchDatesFollowsWorkingDays(t *testing.T) {
	d, mock := newTestDirectory(t)

	mock.ExpectQuery("SELECT DISTINCT weekday FROM doctor_schedules").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"weekday"}).AddRow(6).AddRow(1))

	items, err := d.FetchCandidates(context.Background(), stage(t, "date"), wizard.Upstream{
		"doctor": {Value: "7"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2025-03-01", items[0].Value)
	assert.Equal(t, "Sat 1 Mar 2025", items[0].Label)
	assert.Equal(t, "2025-03-03", items[1].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchSlotsReportsRemainingCapacity(t *testing.T) {
	d, mock := newTestDirectory(t)

	mock.ExpectQuery("FROM doctor_schedules").
		WithArgs(int64(7), 6).
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute", "slot_minutes", "capacity"}).
			AddRow(540, 600, 30, 2))
	mock.ExpectQuery("FROM appointments").
		WithArgs(int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"starts_at", "count"}).
			AddRow(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), int64(1)).
			AddRow(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), int64(2)))

	items, err := d.FetchCandidates(context.Background(), stage(t, "slot"), wizard.Upstream{
		"doctor": {Value: "7"},
		"date":   {Value: "2025-03-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, []wizard.Candidate{
		{Value: "09:00-09:30", Label: "09:00", Capacity: 2, Remaining: 1},
		{Value: "09:30-10:00", Label: "09:30", Capacity: 2, Remaining: 0},
	}, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newEasternDirectory(t *testing.T) (*Directory, pgxmock.PgxPoolIface) {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, Config{
		Location: loc,
		Clock:    func() time.Time { return fixedNow },
		Logger:   logging.Discard(),
	}), mock
}

// 2025-03-09 is the spring-forward Sunday in New York; the schedule is wall
// clock time.
func TestFetchSlotsKeepsWallClockOnDSTChange(t *testing.T) {
	d, mock := newEasternDirectory(t)

	mock.ExpectQuery("FROM doctor_schedules").
		WithArgs(int64(7), 0).
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute", "slot_minutes", "capacity"}).
			AddRow(540, 600, 30, 2))
	mock.ExpectQuery("FROM appointments").
		WithArgs(int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"starts_at", "count"}).
			AddRow(time.Date(2025, 3, 9, 13, 0, 0, 0, time.UTC), int64(1)))

	items, err := d.FetchCandidates(context.Background(), stage(t, "slot"), wizard.Upstream{
		"doctor": {Value: "7"},
		"date":   {Value: "2025-03-09"},
	})
	require.NoError(t, err)
	assert.Equal(t, []wizard.Candidate{
		{Value: "09:00-09:30", Label: "09:00", Capacity: 2, Remaining: 1},
		{Value: "09:30-10:00", Label: "09:30", Capacity: 2, Remaining: 2},
	}, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordAcceptsScheduledSlotOnDSTChange(t *testing.T) {
	d, mock := newEasternDirectory(t)
	payload := bookingPayload()
	payload[booking.FieldDate] = "2025-03-09"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT full_name, email FROM patients").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"full_name", "email"}).AddRow("Jane Roe", ""))
	mock.ExpectQuery("FROM doctors").
		WithArgs(int64(7), "Cardiology").
		WillReturnRows(pgxmock.NewRows([]string{"full_name"}).AddRow("Dr. House"))
	mock.ExpectQuery("FROM doctor_schedules").
		WithArgs(int64(7), 0).
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute", "slot_minutes", "capacity"}).
			AddRow(540, 600, 30, 1))
	mock.ExpectQuery("FROM appointments").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), "Cardiology", int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "booking.appointment.booked.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	conf, err := d.CreateRecord(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "Dr. House, Sun 9 Mar 2025 09:00-09:30", conf.Summary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWallClockMinutes(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, loc)

	start := wallClock(day, 540)
	assert.Equal(t, "09:00", start.Format("15:04"))
	assert.Equal(t, 540, minuteOfDay(start))
	assert.Equal(t, 8*time.Hour, start.Sub(day))
}

func TestFetchRejectsBadUpstream(t *testing.T) {
	d, _ := newTestDirectory(t)
	_, err := d.FetchCandidates(context.Background(), stage(t, "date"), wizard.Upstream{"doctor": {Value: "x"}})
	assert.Error(t, err)
	_, err = d.FetchCandidates(context.Background(), wizard.Stage{Name: "room"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedStage)
}

func TestSearchPatients(t *testing.T) {
	d, mock := newTestDirectory(t)

	mock.ExpectQuery("FROM patients").
		WithArgs("jan", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "email"}).
			AddRow(int64(42), "Jane Roe", "jane@example.com"))

	items, err := d.SearchCandidates(context.Background(), stage(t, "patient"), nil, "jan")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "42", items[0].Value)
	assert.Equal(t, "jane@example.com", items[0].Meta["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func bookingPayload() wizard.Payload {
	return wizard.Payload{
		booking.FieldPatient:    "42",
		booking.FieldDepartment: "Cardiology",
		booking.FieldDoctor:     "7",
		booking.FieldDate:       "2025-03-01",
		booking.FieldSlot:       "09:00-09:30",
	}
}

func expectBookingReads(mock pgxmock.PgxPoolIface, booked int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT full_name, email FROM patients").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"full_name", "email"}).AddRow("Jane Roe", "jane@example.com"))
	mock.ExpectQuery("FROM doctors").
		WithArgs(int64(7), "Cardiology").
		WillReturnRows(pgxmock.NewRows([]string{"full_name"}).AddRow("Dr. House"))
	mock.ExpectQuery("FROM doctor_schedules").
		WithArgs(int64(7), 6).
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute", "slot_minutes", "capacity"}).
			AddRow(540, 720, 30, 2))
	mock.ExpectQuery("FROM appointments").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(booked))
}

func TestCreateRecordBooksAndRecordsEvent(t *testing.T) {
	d, mock := newTestDirectory(t)

	expectBookingReads(mock, 1)
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), "Cardiology", int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "booking.appointment.booked.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	conf, err := d.CreateRecord(context.Background(), bookingPayload())
	require.NoError(t, err)
	assert.NotEmpty(t, conf.ID)
	assert.Regexp(t, `^BK-[0-9A-F]{8}$`, conf.ConfirmationCode)
	assert.Equal(t, "Dr. House, Sat 1 Mar 2025 09:00-09:30", conf.Summary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordRejectsFullSlot(t *testing.T) {
	d, mock := newTestDirectory(t)
	expectBookingReads(mock, 2)
	mock.ExpectRollback()

	_, err := d.CreateRecord(context.Background(), bookingPayload())
	var verr *wizard.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "fully booked", verr.Fields[booking.FieldSlot])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordRejectsDoubleBookedPatient(t *testing.T) {
	d, mock := newTestDirectory(t)
	expectBookingReads(mock, 0)
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), "Cardiology", int64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := d.CreateRecord(context.Background(), bookingPayload())
	assert.ErrorIs(t, err, wizard.ErrValidationFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordRejectsOffScheduleSlot(t *testing.T) {
	d, mock := newTestDirectory(t)
	payload := bookingPayload()
	payload[booking.FieldSlot] = "09:10-09:40"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT full_name, email FROM patients").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"full_name", "email"}).AddRow("Jane Roe", ""))
	mock.ExpectQuery("FROM doctors").
		WithArgs(int64(7), "Cardiology").
		WillReturnRows(pgxmock.NewRows([]string{"full_name"}).AddRow("Dr. House"))
	mock.ExpectQuery("FROM doctor_schedules").
		WithArgs(int64(7), 6).
		WillReturnRows(pgxmock.NewRows([]string{"start_minute", "end_minute", "slot_minutes", "capacity"}).
			AddRow(540, 720, 30, 2))
	mock.ExpectRollback()

	_, err := d.CreateRecord(context.Background(), payload)
	var verr *wizard.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "outside the doctor's schedule", verr.Fields[booking.FieldSlot])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordValidatesBeforeTouchingDatabase(t *testing.T) {
	d, mock := newTestDirectory(t)
	payload := bookingPayload()
	payload[booking.FieldDate] = "2025-02-01"

	_, err := d.CreateRecord(context.Background(), payload)
	assert.ErrorIs(t, err, wizard.ErrValidationFailed)

	delete(payload, booking.FieldDoctor)
	_, err = d.CreateRecord(context.Background(), payload)
	assert.ErrorIs(t, err, wizard.ErrValidationFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestShiftStarts(t *testing.T) {
	s := shift{startMinute: 540, endMinute: 615, slotMinutes: 30, capacity: 1}
	assert.Equal(t, []int{540, 570}, s.starts())
	assert.True(t, s.contains(570, 600))
	assert.False(t, s.contains(600, 630))
	assert.False(t, s.contains(545, 575))
}
