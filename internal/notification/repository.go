package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
)

var (
	ErrNotificationNotFound = apperr.NotFound("Notification not found")
	ErrPreferenceNotFound   = apperr.NotFound("Notification preferences not found")
	ErrDuplicateReminder    = apperr.Conflict("Reminder already exists for this appointment")
)

// RetryQuery selects undelivered notifications worth another attempt.
type RetryQuery struct {
	CreatedAfter  time.Time
	UpdatedBefore time.Time
	MaxAttempts   int
	Limit         int
}

type Repository interface {
	// CreateNotification returns ErrDuplicateReminder when a reminder for the
	// same appointment and audience already exists.
	CreateNotification(ctx context.Context, n *Notification) (*Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)
	// SaveDelivery persists status, channels, attempts and error state.
	SaveDelivery(ctx context.Context, n *Notification) error
	// Newest first.
	ListForUser(ctx context.Context, userID string, userType UserType, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, userType UserType, at time.Time) (int64, error)
	// ReminderExists reports whether the audience already has a reminder for the appointment.
	ReminderExists(ctx context.Context, appointmentID uuid.UUID, userType UserType) (bool, error)
	ListRetryCandidates(ctx context.Context, q RetryQuery) ([]Notification, error)
	// ExpireStale fails every undelivered notification created before the cutoff.
	ExpireStale(ctx context.Context, before time.Time) (int64, error)

	GetPreference(ctx context.Context, userID string) (*Preference, error)
	UpsertPreference(ctx context.Context, p *Preference) (*Preference, error)
}
