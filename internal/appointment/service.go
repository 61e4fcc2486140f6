package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/internal/metrics"
	redisclient "github.com/hackgods/appointment-scheduling-core/internal/redis"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

var (
	ErrAppointmentBusy = apperr.Conflict("Appointment is being updated, please retry")
	ErrSlotBeingBooked = apperr.Conflict("This time slot is currently being booked, please retry")
	ErrNotAuthorized   = apperr.Authorization("You are not authorized to perform this action")
	ErrOnlyScheduled   = apperr.Validation("Only scheduled appointments can be confirmed")
)

type RequestInput struct {
	DoctorID string
	Date     time.Time
	TimeSlot string
	Reason   string
	Notes    string
}

// ScheduleInput carries the admin's decision. Zero fields keep the current
// value; an empty Status is inferred from the current one.
type ScheduleInput struct {
	Date     *time.Time
	TimeSlot string
	Status   AppointmentStatus
	Notes    string
}

type Service struct {
	repo    Repository
	checker *AvailabilityChecker
	locker  redisclient.Locker
	events  EventPublisher
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, checker *AvailabilityChecker, locker redisclient.Locker, events EventPublisher, cfg config.Config, logger *logging.Logger, opts ...Option) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:    repo,
		checker: checker,
		locker:  locker,
		events:  events,
		logger:  logger,
		loc:     loc,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today is the current civil day on the clinic clock.
func (s *Service) today() time.Time {
	return Day(s.now().In(s.loc))
}

// Request creates a new appointment request on behalf of a patient.
func (s *Service) Request(ctx context.Context, p auth.Principal, in RequestInput) (*Appointment, error) {
	if !p.HasRole(auth.RolePatient) {
		return nil, ErrNotAuthorized
	}
	if strings.TrimSpace(in.DoctorID) == "" {
		return nil, apperr.Validation("Doctor ID is required")
	}
	if strings.TrimSpace(in.TimeSlot) == "" {
		return nil, apperr.Validation("Time slot is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.Validation("Reason is required")
	}
	if in.Date.IsZero() {
		return nil, apperr.Validation("Appointment date is required")
	}
	if !Day(in.Date).After(s.today()) {
		return nil, apperr.Validation("Appointment date must be in the future")
	}

	now := s.now().UTC()
	created, err := s.repo.CreateAppointment(ctx, &Appointment{
		ID:              uuid.New(),
		PatientID:       p.UserID,
		DoctorID:        in.DoctorID,
		AppointmentDate: Day(in.Date),
		TimeSlot:        in.TimeSlot,
		Status:          StatusRequested,
		Reason:          in.Reason,
		Notes:           in.Notes,
		CreatedBy:       p.UserID,
		UpdatedBy:       p.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, storeError("create appointment", err)
	}

	s.emit(ctx, p, created, EventAppointmentRequested)
	return created, nil
}

// Schedule assigns (or moves) an appointment to a concrete slot. The slot is
// locked and re-checked before commit; the store's active-slot uniqueness is
// the final arbiter.
func (s *Service) Schedule(ctx context.Context, p auth.Principal, id uuid.UUID, in ScheduleInput) (*Appointment, error) {
	if !p.HasRole(auth.RoleAdmin) {
		return nil, ErrNotAuthorized
	}

	return s.withAppointment(ctx, p, id, func(ctx context.Context, appt *Appointment) (EventType, error) {
		if appt.Status.Terminal() {
			return "", apperr.Validation("Cannot schedule a " + string(appt.Status) + " appointment")
		}

		target := scheduleTarget(appt.Status, in.Status)
		if target != StatusScheduled && target != StatusRescheduled {
			return "", apperr.Validation("Status must be scheduled or rescheduled")
		}
		if !CanTransition(appt.Status, target) {
			return "", invalidTransition(appt.Status, target)
		}

		day := appt.AppointmentDate
		if in.Date != nil {
			day = Day(*in.Date)
		}
		if day.Before(s.today()) {
			return "", apperr.Validation("Appointment date cannot be in the past")
		}
		slot := appt.TimeSlot
		if in.TimeSlot != "" {
			slot = in.TimeSlot
		}

		expected := appt.Status
		err := s.locker.WithLock(ctx, redisclient.SlotKey(appt.DoctorID, FormatDate(day), slot), func(ctx context.Context) error {
			availability, err := s.checker.CheckAvailability(ctx, appt.DoctorID, day, slot, &appt.ID)
			if err != nil {
				return err
			}
			if !availability.Available {
				if availability.Reason == ReasonSlotBooked {
					s.metrics.ObserveConflict("slot_booked")
					return ErrSlotAlreadyBooked
				}
				return apperr.Validation(availability.Reason)
			}

			appt.AppointmentDate = day
			appt.TimeSlot = slot
			appt.Status = target
			appt.AppendNote(in.Notes)
			return s.commit(ctx, p, appt, expected)
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.ObserveConflict("slot_locked")
			return "", ErrSlotBeingBooked
		}
		if err != nil {
			return "", lockError(err)
		}

		if target == StatusRescheduled {
			return EventAppointmentRescheduled, nil
		}
		return EventAppointmentScheduled, nil
	})
}

// scheduleTarget resolves the status a schedule call moves to.
func scheduleTarget(current, requested AppointmentStatus) AppointmentStatus {
	if requested != "" {
		return requested
	}
	switch current {
	case StatusScheduled, StatusRescheduled, StatusConfirmed:
		return StatusRescheduled
	default:
		return StatusScheduled
	}
}

// Cancel is allowed for the patient or doctor on record and for admins.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.withAppointment(ctx, p, id, func(ctx context.Context, appt *Appointment) (EventType, error) {
		if !p.HasRole(auth.RoleAdmin) && !isPatientOnRecord(p, appt) && !isDoctorOnRecord(p, appt) {
			return "", ErrNotAuthorized
		}
		if !CanTransition(appt.Status, StatusCancelled) {
			return "", invalidTransition(appt.Status, StatusCancelled)
		}

		expected := appt.Status
		appt.Status = StatusCancelled
		appt.AppendNote("Cancelled by " + strings.Join(p.Roles, ","))
		return EventAppointmentCancelled, s.commit(ctx, p, appt, expected)
	})
}

// Complete closes an appointment; only the doctor on record may do this.
func (s *Service) Complete(ctx context.Context, p auth.Principal, id uuid.UUID, notes string) (*Appointment, error) {
	return s.withAppointment(ctx, p, id, func(ctx context.Context, appt *Appointment) (EventType, error) {
		if !isDoctorOnRecord(p, appt) {
			return "", ErrNotAuthorized
		}
		if !appt.Status.Active() {
			return "", apperr.Validation("Only scheduled or confirmed appointments can be completed")
		}

		expected := appt.Status
		appt.Status = StatusCompleted
		appt.AppendNote(notes)
		return EventAppointmentCompleted, s.commit(ctx, p, appt, expected)
	})
}

// Confirm records the patient's acknowledgement of a scheduled slot.
func (s *Service) Confirm(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.withAppointment(ctx, p, id, func(ctx context.Context, appt *Appointment) (EventType, error) {
		if !isPatientOnRecord(p, appt) {
			return "", ErrNotAuthorized
		}
		if appt.Status != StatusScheduled && appt.Status != StatusRescheduled {
			return "", ErrOnlyScheduled
		}

		expected := appt.Status
		appt.Status = StatusConfirmed
		return EventAppointmentConfirmed, s.commit(ctx, p, appt, expected)
	})
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storeError("load appointment", err)
	}
	if !p.HasRole(auth.RoleAdmin) && !isPatientOnRecord(p, appt) && !isDoctorOnRecord(p, appt) {
		return nil, ErrNotAuthorized
	}
	return appt, nil
}

func (s *Service) ListForPatient(ctx context.Context, p auth.Principal) ([]Appointment, error) {
	if !p.HasRole(auth.RolePatient) {
		return nil, ErrNotAuthorized
	}
	return s.list(ctx, Filter{PatientID: p.UserID})
}

func (s *Service) ListForDoctor(ctx context.Context, p auth.Principal) ([]Appointment, error) {
	if !p.HasRole(auth.RoleDoctor) {
		return nil, ErrNotAuthorized
	}
	return s.list(ctx, Filter{DoctorID: p.UserID})
}

// List is the admin view over every appointment.
func (s *Service) List(ctx context.Context, p auth.Principal, filter Filter) ([]Appointment, error) {
	if !p.HasRole(auth.RoleAdmin) {
		return nil, ErrNotAuthorized
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("Invalid status filter: " + string(st))
		}
	}
	return s.list(ctx, filter)
}

func (s *Service) list(ctx context.Context, filter Filter) ([]Appointment, error) {
	appts, err := s.repo.FindByFilter(ctx, filter)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	return appts, nil
}

// withAppointment serializes a transition on one appointment. fn mutates the
// loaded record and commits it; the event is emitted only after fn succeeds.
func (s *Service) withAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, fn func(ctx context.Context, appt *Appointment) (EventType, error)) (*Appointment, error) {
	var (
		result    *Appointment
		eventType EventType
	)

	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return storeError("load appointment", err)
		}

		eventType, err = fn(lockCtx, appt)
		if err != nil {
			return err
		}
		result = appt
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.ObserveConflict("appointment_locked")
		return nil, ErrAppointmentBusy
	}
	if err != nil {
		return nil, lockError(err)
	}

	s.emit(ctx, p, result, eventType)
	return result, nil
}

// commit stamps the actor and writes appt back, provided the stored status is
// still expected.
func (s *Service) commit(ctx context.Context, p auth.Principal, appt *Appointment, expected AppointmentStatus) error {
	appt.UpdatedBy = p.UserID
	appt.UpdatedAt = s.now().UTC()

	updated, err := s.repo.UpdateAppointment(ctx, appt, expected)
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			s.metrics.ObserveConflict("slot_booked")
		}
		return storeError("update appointment", err)
	}
	*appt = *updated
	return nil
}

func (s *Service) emit(ctx context.Context, p auth.Principal, appt *Appointment, eventType EventType) {
	s.logEvent(ctx, appt, p.UserID, eventType)
	s.metrics.ObserveTransition(string(eventType))
	s.events.Publish(ctx, Event{
		Type:        eventType,
		Appointment: *appt,
		ActorID:     p.UserID,
		OccurredAt:  appt.UpdatedAt,
	})
}

func (s *Service) logEvent(ctx context.Context, appt *Appointment, actorID string, eventType EventType) {
	data, err := json.Marshal(map[string]any{
		"status":     appt.Status,
		"doctor_id":  appt.DoctorID,
		"patient_id": appt.PatientID,
		"date":       FormatDate(appt.AppointmentDate),
		"time_slot":  appt.TimeSlot,
	})
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event", eventType, "error", err)
		data = nil
	}

	apptID := appt.ID
	ev := EventLog{
		EventType:     string(eventType),
		AppointmentID: &apptID,
		ActorID:       actorID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("failed to insert event log", "event", eventType, "appointment_id", appt.ID, "error", err)
	}
}

func isPatientOnRecord(p auth.Principal, appt *Appointment) bool {
	return p.HasRole(auth.RolePatient) && p.UserID == appt.PatientID
}

func isDoctorOnRecord(p auth.Principal, appt *Appointment) bool {
	return p.HasRole(auth.RoleDoctor) && p.UserID == appt.DoctorID
}

func invalidTransition(from, to AppointmentStatus) error {
	return apperr.Validation("Cannot change appointment from " + string(from) + " to " + string(to))
}

// storeError passes tagged errors through and wraps anything else as internal.
func storeError(op string, err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	return apperr.Internal(op, err)
}

// lockError maps a lock backend failure to a dependency error; tagged errors
// raised inside the critical section pass through.
func lockError(err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Dependency("Request timed out", err)
	}
	return apperr.Dependency("Lock service unavailable", err)
}
