package appointment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rowColumns = []string{
	"id", "patient_id", "doctor_id", "appointment_date", "time_slot", "status",
	"reason", "notes", "created_by", "updated_by", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func appointmentRow(mock pgxmock.PgxPoolIface, a Appointment) *pgxmock.Rows {
	return mock.NewRows(rowColumns).AddRow(
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.TimeSlot, a.Status,
		a.Reason, a.Notes, a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt,
	)
}

func sampleAppointment() Appointment {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Appointment{
		ID:              uuid.New(),
		PatientID:       "P1",
		DoctorID:        "D1",
		AppointmentDate: monday,
		TimeSlot:        "09:00-09:30",
		Status:          StatusScheduled,
		Reason:          "checkup",
		CreatedBy:       "P1",
		UpdatedBy:       "A1",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestPgRepository_GetAppointmentByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	appt := sampleAppointment()

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments")).
		WithArgs(appt.ID).
		WillReturnRows(appointmentRow(mock, appt))

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetAppointmentByID_LocalZoneKeepsCivilDay(t *testing.T) {
	orig := time.Local
	time.Local = time.FixedZone("EDT", -4*60*60)
	t.Cleanup(func() { time.Local = orig })

	repo, mock := newMockRepo(t)
	appt := sampleAppointment()
	// 2026-10-19 as stored, decoded into a zone west of UTC.
	appt.AppointmentDate = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC).In(time.Local)

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments")).
		WithArgs(appt.ID).
		WillReturnRows(appointmentRow(mock, appt))

	got, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), got.AppointmentDate)
	assert.Equal(t, "2026-10-19", FormatDate(got.AppointmentDate))
	assert.Equal(t, "monday", WeekdayName(got.AppointmentDate))
	assert.Equal(t, DayRangeFor(got.AppointmentDate).Start, got.AppointmentDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetAppointmentByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments")).
		WithArgs(id).
		WillReturnRows(mock.NewRows(rowColumns))

	_, err := repo.GetAppointmentByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_UpdateAppointment_LostRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	appt := sampleAppointment()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE appointments")).
		WithArgs(appt.ID, appt.AppointmentDate, appt.TimeSlot, appt.Status, appt.Notes, appt.UpdatedBy, appt.UpdatedAt, StatusRequested).
		WillReturnRows(mock.NewRows(rowColumns))

	_, err := repo.UpdateAppointment(context.Background(), &appt, StatusRequested)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_UpdateAppointment_SlotViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	appt := sampleAppointment()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE appointments")).
		WithArgs(appt.ID, appt.AppointmentDate, appt.TimeSlot, appt.Status, appt.Notes, appt.UpdatedBy, appt.UpdatedAt, StatusRequested).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_key"})

	_, err := repo.UpdateAppointment(context.Background(), &appt, StatusRequested)
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_FindConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	appt := sampleAppointment()
	day := DayRangeFor(monday)
	exclude := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("status = ANY($5)")).
		WithArgs("D1", day.Start, day.End, "09:00-09:30", []string{"scheduled", "rescheduled", "confirmed"}, &exclude).
		WillReturnRows(appointmentRow(mock, appt))

	got, err := repo.FindConflict(context.Background(), "D1", day, "09:00-09:30", &exclude)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_FindByFilter(t *testing.T) {
	repo, mock := newMockRepo(t)
	appt := sampleAppointment()

	mock.ExpectQuery(`SELECT .* FROM "appointments" WHERE .*"status" IN .*"doctor_id" = .* ORDER BY "appointment_date" ASC`).
		WithArgs("scheduled", "D1").
		WillReturnRows(appointmentRow(mock, appt))

	got, err := repo.FindByFilter(context.Background(), Filter{
		Statuses: []AppointmentStatus{StatusScheduled},
		DoctorID: "D1",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, appt.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_InsertEvent(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_logs")).
		WithArgs("appointment_confirmed", &id, "P1", []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType:     "appointment_confirmed",
		AppointmentID: &id,
		ActorID:       "P1",
		Payload:       []byte(`{}`),
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
