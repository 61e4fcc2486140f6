package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.NotFound("Appointment not found")
	ErrConcurrentUpdate    = apperr.Conflict("Appointment was modified concurrently, please retry")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointment persists appt only if the stored status still equals
	// expected. A lost race returns ErrConcurrentUpdate; a slot uniqueness
	// violation returns ErrSlotAlreadyBooked.
	UpdateAppointment(ctx context.Context, appt *Appointment, expected AppointmentStatus) (*Appointment, error)

	// For conflict checks. Returns ErrAppointmentNotFound when the slot is free.
	FindConflict(ctx context.Context, doctorID string, day DayRange, timeSlot string, excludeID *uuid.UUID) (*Appointment, error)

	// Sorted by appointment date ascending.
	FindByFilter(ctx context.Context, filter Filter) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
