package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	redisclient "github.com/hackgods/appointment-scheduling-core/internal/redis"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

// AppointmentFinder is the read side of the appointment store.
type AppointmentFinder interface {
	FindByFilter(ctx context.Context, filter appointment.Filter) ([]appointment.Appointment, error)
}

// ReminderScheduler creates reminders for the next day's active appointments
// once a day at a fixed clinic-local time.
type ReminderScheduler struct {
	appointments AppointmentFinder
	repo         Repository
	dispatcher   *Dispatcher
	locker       redisclient.Locker
	logger       *logging.Logger
	now          func() time.Time

	loc    *time.Location
	hour   int
	minute int
}

func NewReminderScheduler(appts AppointmentFinder, repo Repository, dispatcher *Dispatcher, locker redisclient.Locker, cfg config.Config, logger *logging.Logger) *ReminderScheduler {
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderScheduler{
		appointments: appts,
		repo:         repo,
		dispatcher:   dispatcher,
		locker:       locker,
		logger:       logger,
		now:          dispatcher.now,
		loc:          loc,
		hour:         cfg.ReminderHour,
		minute:       cfg.ReminderMinute,
	}
}

// NextRun returns the first trigger strictly after now.
func (r *ReminderScheduler) NextRun(now time.Time) time.Time {
	local := now.In(r.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), r.hour, r.minute, 0, 0, r.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, r.hour, r.minute, 0, 0, r.loc)
	}
	return next
}

func (r *ReminderScheduler) Run(ctx context.Context) error {
	for {
		next := r.NextRun(r.now())
		r.logger.Info("next reminder run scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		created, err := r.RunOnce(ctx, r.now())
		if err != nil {
			r.logger.Error("reminder run failed", "error", err)
			continue
		}
		r.logger.Info("reminder run finished", "created", created)
	}
}

// RunOnce creates reminders for appointments on the clinic day after now.
// Running it again for the same day creates nothing new.
func (r *ReminderScheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	tomorrow := appointment.Day(now.In(r.loc)).AddDate(0, 0, 1)
	day := appointment.FormatDate(tomorrow)

	created := 0
	err := r.locker.WithLock(ctx, redisclient.ReminderKey(day), func(ctx context.Context) error {
		appts, err := r.appointments.FindByFilter(ctx, appointment.Filter{
			Statuses: appointment.ActiveStatuses,
			Date:     &tomorrow,
		})
		if err != nil {
			return err
		}

		for _, appt := range appts {
			done, err := r.remindersComplete(ctx, appt.ID)
			if err != nil {
				r.logger.Error("failed to check reminder", "appointment_id", appt.ID, "error", err)
				continue
			}
			if done {
				continue
			}

			notifications, err := r.dispatcher.OnAppointmentEvent(ctx, TypeAppointmentReminder, appt)
			if err != nil {
				r.logger.Error("failed to create reminder", "appointment_id", appt.ID, "error", err)
				continue
			}
			created += len(notifications)
		}
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		r.logger.Info("reminder run already in progress", "day", day)
		return 0, nil
	}
	return created, err
}

// remindersComplete reports whether both the patient and the doctor already
// hold a reminder. A partial set is retried; the dispatcher skips the
// audience that already has one.
func (r *ReminderScheduler) remindersComplete(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	for _, ut := range []UserType{UserPatient, UserDoctor} {
		exists, err := r.repo.ReminderExists(ctx, appointmentID, ut)
		if err != nil || !exists {
			return false, err
		}
	}
	return true, nil
}
