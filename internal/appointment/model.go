package appointment

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusRequested   AppointmentStatus = "requested"
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// ActiveStatuses occupy their (doctor, day, slot) triple exclusively.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusRescheduled, StatusConfirmed}

// transitions is the complete table of allowed status changes.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusRequested:   {StatusScheduled, StatusRescheduled, StatusCancelled},
	StatusScheduled:   {StatusScheduled, StatusRescheduled, StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusRescheduled: {StatusScheduled, StatusRescheduled, StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed:   {StatusScheduled, StatusRescheduled, StatusCancelled, StatusCompleted},
	StatusCompleted:   nil,
	StatusCancelled:   nil,
}

func (s AppointmentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to AppointmentStatus) bool {
	return slices.Contains(transitions[from], to)
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       string
	DoctorID        string
	AppointmentDate time.Time // civil day, midnight UTC
	TimeSlot        string
	Status          AppointmentStatus
	Reason          string
	Notes           string
	CreatedBy       string
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppendNote adds a line to the notes log without discarding history.
func (a *Appointment) AppendNote(note string) {
	if note == "" {
		return
	}
	if a.Notes == "" {
		a.Notes = note
		return
	}
	a.Notes = a.Notes + "\n" + note
}

// Filter narrows FindByFilter; zero fields are ignored.
type Filter struct {
	Statuses  []AppointmentStatus
	Date      *time.Time
	DoctorID  string
	PatientID string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       string
	Payload       []byte
	CreatedAt     time.Time
}
