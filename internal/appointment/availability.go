package appointment

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/directory"
)

const (
	ReasonNotInAvailability = "Doctor is not available for this time slot"
	ReasonSlotBooked        = "This time slot is already booked"
)

var ErrSlotAlreadyBooked = apperr.Conflict(ReasonSlotBooked)

// DoctorDirectory is the doctor side of the directory collaborator.
type DoctorDirectory interface {
	GetAvailability(ctx context.Context, doctorID string) (directory.WeeklyAvailability, error)
}

type Availability struct {
	Available bool
	Reason    string
}

// AvailabilityChecker decides whether a slot is bookable. It is a fast-path
// filter: the store's uniqueness constraint is what guarantees exclusivity.
type AvailabilityChecker struct {
	directory DoctorDirectory
	repo      Repository
}

func NewAvailabilityChecker(dir DoctorDirectory, repo Repository) *AvailabilityChecker {
	return &AvailabilityChecker{directory: dir, repo: repo}
}

func (c *AvailabilityChecker) CheckAvailability(ctx context.Context, doctorID string, date time.Time, timeSlot string, excludeID *uuid.UUID) (Availability, error) {
	weekly, err := c.directory.GetAvailability(ctx, doctorID)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindDependency:
			return Availability{}, err
		default:
			return Availability{}, apperr.Dependency("Error checking doctor availability", err)
		}
	}

	slots := weekly[WeekdayName(date)]
	if len(slots) == 0 || !slices.Contains(slots, timeSlot) {
		return Availability{Available: false, Reason: ReasonNotInAvailability}, nil
	}

	existing, err := c.repo.FindConflict(ctx, doctorID, DayRangeFor(date), timeSlot, excludeID)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return Availability{}, apperr.Internal("check conflicting appointment", err)
	}
	if existing != nil {
		return Availability{Available: false, Reason: ReasonSlotBooked}, nil
	}

	return Availability{Available: true}, nil
}
