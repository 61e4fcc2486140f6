package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/directory"
)

type memRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]Notification
	preferences   map[string]Preference
}

func newMemRepo() *memRepo {
	return &memRepo{
		notifications: map[uuid.UUID]Notification{},
		preferences:   map[string]Preference{},
	}
}

func (r *memRepo) CreateNotification(_ context.Context, n *Notification) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.Type == TypeAppointmentReminder {
		for _, other := range r.notifications {
			if other.Type == TypeAppointmentReminder && other.AppointmentID == n.AppointmentID && other.UserType == n.UserType {
				return nil, ErrDuplicateReminder
			}
		}
	}
	r.notifications[n.ID] = *n
	out := *n
	return &out, nil
}

func (r *memRepo) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return &n, nil
}

func (r *memRepo) SaveDelivery(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.notifications[n.ID]
	if !ok || current.Status == StatusRead {
		return ErrNotificationNotFound
	}
	r.notifications[n.ID] = *n
	return nil
}

func (r *memRepo) ListForUser(_ context.Context, userID string, userType UserType, unreadOnly bool) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notification{}
	for _, n := range r.notifications {
		if n.UserID != userID || n.UserType != userType {
			continue
		}
		if unreadOnly && n.Status == StatusRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) MarkRead(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = StatusRead
	n.ReadAt = &at
	r.notifications[id] = n
	return nil
}

func (r *memRepo) MarkAllRead(_ context.Context, userID string, userType UserType, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, n := range r.notifications {
		if n.UserID == userID && n.UserType == userType && n.Status != StatusRead {
			n.Status = StatusRead
			n.ReadAt = &at
			r.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ReminderExists(_ context.Context, appointmentID uuid.UUID, userType UserType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.AppointmentID == appointmentID && n.Type == TypeAppointmentReminder && n.UserType == userType {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListRetryCandidates(_ context.Context, q RetryQuery) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notification{}
	for _, n := range r.notifications {
		if (n.Status == StatusPending || n.Status == StatusFailed) && n.Retryable &&
			n.Attempts < q.MaxAttempts && !n.CreatedAt.Before(q.CreatedAfter) && !n.UpdatedAt.After(q.UpdatedBefore) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memRepo) ExpireStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, n := range r.notifications {
		if (n.Status == StatusPending || n.Status == StatusFailed) && n.Retryable && n.CreatedAt.Before(before) {
			n.Status = StatusFailed
			n.Retryable = false
			n.LastError = "expired before delivery"
			r.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (r *memRepo) GetPreference(_ context.Context, userID string) (*Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.preferences[userID]
	if !ok {
		return nil, ErrPreferenceNotFound
	}
	return &p, nil
}

func (r *memRepo) UpsertPreference(_ context.Context, p *Preference) (*Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[p.UserID] = *p
	out := *p
	return &out, nil
}

func (r *memRepo) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		out = append(out, n)
	}
	return out
}

func (r *memRepo) get(id uuid.UUID) Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifications[id]
}

type fakeContacts struct {
	mu       sync.Mutex
	contacts map[string]directory.ContactInfo
	err      error
}

func (f *fakeContacts) GetContactInfo(_ context.Context, userID, _ string) (directory.ContactInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return directory.ContactInfo{}, f.err
	}
	c, ok := f.contacts[userID]
	if !ok {
		return directory.ContactInfo{}, directory.ErrUserNotFound
	}
	return c, nil
}

// fakeChannel implements every sender interface and records what it sent.
type fakeChannel struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakeChannel) record(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return "msg-" + uuid.NewString()[:8], nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeChannel) Send(ctx context.Context, _ EmailMessage) (string, error) {
	return f.record(ctx)
}

func (f *fakeChannel) SendSMS(ctx context.Context, _, _ string) (string, error) {
	return f.record(ctx)
}

func (f *fakeChannel) Call(ctx context.Context, _, _ string, _ VoiceType, _ string) (string, error) {
	return f.record(ctx)
}

func (f *fakeChannel) Push(ctx context.Context, _ PushMessage) (string, error) {
	return f.record(ctx)
}

var errProviderDown = errors.New("provider down")
