package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	activeSlotConstraint = "appointments_active_slot_key"
)

var appointmentColumns = []any{
	"id", "patient_id", "doctor_id", "appointment_date", "time_slot", "status",
	"reason", "notes", "created_by", "updated_by", "created_at", "updated_at",
}

const selectAppointment = `
	SELECT id, patient_id, doctor_id, appointment_date, time_slot, status,
	       reason, notes, created_by, updated_by, created_at, updated_at
	FROM appointments`

const returningAppointment = `
	RETURNING id, patient_id, doctor_id, appointment_date, time_slot, status,
	          reason, notes, created_by, updated_by, created_at, updated_at`

// PgxPool is the subset of *pgxpool.Pool the repository uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool    PgxPool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AppointmentDate,
		&a.TimeSlot,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedBy,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.AppointmentDate = StoredDay(a.AppointmentDate)
	return &a, nil
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotConstraint
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, time_slot, status,
		                          reason, notes, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`+returningAppointment,
		appt.ID, appt.PatientID, appt.DoctorID, Day(appt.AppointmentDate), appt.TimeSlot, appt.Status,
		appt.Reason, appt.Notes, appt.CreatedBy, appt.UpdatedBy, appt.CreatedAt, appt.UpdatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isActiveSlotViolation(err) {
			return nil, ErrSlotAlreadyBooked
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, selectAppointment+`
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, appt *Appointment, expected AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    time_slot = $3,
		    status = $4,
		    notes = $5,
		    updated_by = $6,
		    updated_at = $7
		WHERE id = $1
		  AND status = $8`+returningAppointment,
		appt.ID, Day(appt.AppointmentDate), appt.TimeSlot, appt.Status, appt.Notes,
		appt.UpdatedBy, appt.UpdatedAt, expected)

	updated, err := scanAppointment(row)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, ErrAppointmentNotFound):
		return nil, ErrConcurrentUpdate
	case isActiveSlotViolation(err):
		return nil, ErrSlotAlreadyBooked
	default:
		return nil, fmt.Errorf("update appointment: %w", err)
	}
}

func (r *PgRepository) FindConflict(ctx context.Context, doctorID string, day DayRange, timeSlot string, excludeID *uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, selectAppointment+`
		WHERE doctor_id = $1
		  AND appointment_date BETWEEN $2 AND $3
		  AND time_slot = $4
		  AND status = ANY($5)
		  AND ($6::uuid IS NULL OR id <> $6)
		LIMIT 1
	`, doctorID, day.Start, day.End, timeSlot, statusStrings(ActiveStatuses), excludeID)
	return scanAppointment(row)
}

func (r *PgRepository) FindByFilter(ctx context.Context, filter Filter) ([]Appointment, error) {
	ds := r.dialect.From("appointments").
		Select(appointmentColumns...).
		Order(goqu.C("appointment_date").Asc(), goqu.C("created_at").Asc())

	if len(filter.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(statusStrings(filter.Statuses)))
	}
	if filter.Date != nil {
		day := DayRangeFor(*filter.Date)
		ds = ds.Where(goqu.C("appointment_date").Between(goqu.Range(day.Start, day.End)))
	}
	if filter.DoctorID != "" {
		ds = ds.Where(goqu.C("doctor_id").Eq(filter.DoctorID))
	}
	if filter.PatientID != "" {
		ds = ds.Where(goqu.C("patient_id").Eq(filter.PatientID))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment filter: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
