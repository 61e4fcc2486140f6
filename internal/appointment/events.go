package appointment

import (
	"context"
	"time"
)

type EventType string

const (
	EventAppointmentRequested   EventType = "appointment_requested"
	EventAppointmentScheduled   EventType = "appointment_scheduled"
	EventAppointmentConfirmed   EventType = "appointment_confirmed"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventAppointmentCompleted   EventType = "appointment_completed"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
)

// Event is emitted once per committed transition.
type Event struct {
	Type        EventType
	Appointment Appointment
	ActorID     string
	OccurredAt  time.Time
}

// EventPublisher hands events to the notification side. Implementations must
// not block the caller.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// EventForStatus names the event emitted when an appointment enters status.
func EventForStatus(status AppointmentStatus) (EventType, bool) {
	switch status {
	case StatusRequested:
		return EventAppointmentRequested, true
	case StatusScheduled:
		return EventAppointmentScheduled, true
	case StatusConfirmed:
		return EventAppointmentConfirmed, true
	case StatusCancelled:
		return EventAppointmentCancelled, true
	case StatusCompleted:
		return EventAppointmentCompleted, true
	case StatusRescheduled:
		return EventAppointmentRescheduled, true
	}
	return "", false
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
