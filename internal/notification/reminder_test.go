package notification

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	redisclient "github.com/hackgods/appointment-scheduling-core/internal/redis"
)

type staticAppointments []appointment.Appointment

func (s staticAppointments) FindByFilter(_ context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range s {
		if f.Date != nil && !appointment.Day(*f.Date).Equal(a.AppointmentDate) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func newReminderScheduler(t *testing.T, h *dispatchHarness, appts staticAppointments) (*ReminderScheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{ClinicLocation: time.UTC, ReminderHour: 8}
	return NewReminderScheduler(appts, h.repo, h.d, redisclient.NewRedisLocker(client, time.Minute), cfg, nil), mr
}

func tomorrowAppointments() staticAppointments {
	mk := func(status appointment.AppointmentStatus, day time.Time) appointment.Appointment {
		return appointment.Appointment{
			ID: uuid.New(), PatientID: "P1", DoctorID: "D1",
			AppointmentDate: day, TimeSlot: "09:00-09:30", Status: status,
		}
	}
	return staticAppointments{
		mk(appointment.StatusScheduled, monday),
		mk(appointment.StatusConfirmed, monday),
		mk(appointment.StatusRescheduled, monday),
		mk(appointment.StatusCancelled, monday),
		mk(appointment.StatusRequested, monday),
		mk(appointment.StatusScheduled, monday.AddDate(0, 0, 1)),
	}
}

func TestReminderRunOnce_CreatesForActiveAppointmentsTomorrow(t *testing.T) {
	h := newDispatchHarness(t)
	scheduler, _ := newReminderScheduler(t, h, tomorrowAppointments())

	created, err := scheduler.RunOnce(context.Background(), noon)
	require.NoError(t, err)
	assert.Equal(t, 6, created, "three appointments, patient and doctor each")

	for _, n := range h.repo.all() {
		assert.Equal(t, TypeAppointmentReminder, n.Type)
		assert.Contains(t, n.Message, "tomorrow on March 2, 2026")
	}
}

func TestReminderRunOnce_Idempotent(t *testing.T) {
	h := newDispatchHarness(t)
	scheduler, _ := newReminderScheduler(t, h, tomorrowAppointments())

	_, err := scheduler.RunOnce(context.Background(), noon)
	require.NoError(t, err)
	before := len(h.repo.all())

	created, err := scheduler.RunOnce(context.Background(), noon.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Len(t, h.repo.all(), before)
}

func TestReminderRunOnce_CompletesPartialAudience(t *testing.T) {
	h := newDispatchHarness(t)
	appt := tomorrowAppointments()[0]
	scheduler, _ := newReminderScheduler(t, h, staticAppointments{appt})

	_, err := h.repo.CreateNotification(context.Background(), &Notification{
		ID: uuid.New(), UserID: appt.PatientID, UserType: UserPatient, AppointmentID: appt.ID,
		Type: TypeAppointmentReminder, Status: StatusSent, CreatedAt: noon, UpdatedAt: noon,
	})
	require.NoError(t, err)

	created, err := scheduler.RunOnce(context.Background(), noon)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	byAudience := map[UserType]int{}
	for _, n := range h.repo.all() {
		byAudience[n.UserType]++
	}
	assert.Equal(t, map[UserType]int{UserPatient: 1, UserDoctor: 1}, byAudience)

	created, err = scheduler.RunOnce(context.Background(), noon.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestReminderRunOnce_SkipsWhenAnotherRunHoldsTheDay(t *testing.T) {
	h := newDispatchHarness(t)
	scheduler, mr := newReminderScheduler(t, h, tomorrowAppointments())
	require.NoError(t, mr.Set("lock:"+redisclient.ReminderKey("2026-03-02"), "other-replica"))

	created, err := scheduler.RunOnce(context.Background(), noon)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, h.repo.all())
}

func TestReminderNextRun(t *testing.T) {
	h := newDispatchHarness(t)
	scheduler, _ := newReminderScheduler(t, h, nil)

	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), scheduler.NextRun(noon))
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), scheduler.NextRun(time.Date(2026, 3, 1, 7, 59, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), scheduler.NextRun(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
}
