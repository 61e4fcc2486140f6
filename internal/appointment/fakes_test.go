package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/directory"
)

// memRepo enforces the same active-slot uniqueness the Postgres index does.
type memRepo struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	events []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{appts: map[uuid.UUID]Appointment{}}
}

func (r *memRepo) slotTaken(a Appointment) bool {
	if !a.Status.Active() {
		return false
	}
	for id, other := range r.appts {
		if id == a.ID || !other.Status.Active() {
			continue
		}
		if other.DoctorID == a.DoctorID && other.TimeSlot == a.TimeSlot && Day(other.AppointmentDate).Equal(Day(a.AppointmentDate)) {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slotTaken(*appt) {
		return nil, ErrSlotAlreadyBooked
	}
	r.appts[appt.ID] = *appt
	out := *appt
	return &out, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, appt *Appointment, expected AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.appts[appt.ID]
	if !ok || current.Status != expected {
		return nil, ErrConcurrentUpdate
	}
	if r.slotTaken(*appt) {
		return nil, ErrSlotAlreadyBooked
	}
	r.appts[appt.ID] = *appt
	out := *appt
	return &out, nil
}

func (r *memRepo) FindConflict(_ context.Context, doctorID string, day DayRange, timeSlot string, excludeID *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.TimeSlot == timeSlot && a.Status.Active() &&
			!a.AppointmentDate.Before(day.Start) && !a.AppointmentDate.After(day.End) {
			out := a
			return &out, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) FindByFilter(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Appointment{}
	for _, a := range r.appts {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		if f.Date != nil && !Day(*f.Date).Equal(Day(a.AppointmentDate)) {
			continue
		}
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentDate.Before(out[j].AppointmentDate) })
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = a
}

func (r *memRepo) status(id uuid.UUID) AppointmentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appts[id].Status
}

type fakeDirectory struct {
	availability directory.WeeklyAvailability
	err          error
}

func (f *fakeDirectory) GetAvailability(context.Context, string) (directory.WeeklyAvailability, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.availability, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// passLocker never contends; it leaves exclusivity to the store.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
