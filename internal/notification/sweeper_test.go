package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-scheduling-core/internal/config"
)

func seedNotification(t *testing.T, repo *memRepo, createdAt time.Time, status Status, attempts int) Notification {
	t.Helper()
	n := Notification{
		ID:            uuid.New(),
		UserID:        "P1",
		UserType:      UserPatient,
		AppointmentID: uuid.New(),
		Type:          TypeAppointmentScheduled,
		Message:       "hello",
		Status:        status,
		Channels:      newChannels(),
		Attempts:      attempts,
		Retryable:     true,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	_, err := repo.CreateNotification(context.Background(), &n)
	require.NoError(t, err)
	return n
}

func TestSweepOnce_RetriesAndExpires(t *testing.T) {
	h := newDispatchHarness(t)
	sweeper := NewSweeper(h.repo, h.d, config.Config{MaxNotificationAge: 24 * time.Hour}, nil)

	stale := seedNotification(t, h.repo, noon.Add(-48*time.Hour), StatusPending, 0)
	deferred := seedNotification(t, h.repo, noon.Add(-time.Hour), StatusPending, 0)
	failed := seedNotification(t, h.repo, noon.Add(-time.Hour), StatusFailed, 1)
	exhausted := seedNotification(t, h.repo, noon.Add(-time.Hour), StatusFailed, 3)
	fresh := seedNotification(t, h.repo, noon, StatusPending, 0)

	attempted, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempted)

	got := h.repo.get(stale.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.False(t, got.Retryable)

	assert.Equal(t, StatusSent, h.repo.get(deferred.ID).Status)
	assert.Equal(t, StatusSent, h.repo.get(failed.ID).Status)
	assert.Equal(t, StatusFailed, h.repo.get(exhausted.ID).Status)
	assert.Equal(t, StatusPending, h.repo.get(fresh.ID).Status, "in-flight notifications are left to their worker")
}

func TestNewSweeper_CapsInterval(t *testing.T) {
	h := newDispatchHarness(t)
	sweeper := NewSweeper(h.repo, h.d, config.Config{SweepInterval: time.Hour}, nil)
	assert.Equal(t, 5*time.Minute, sweeper.interval)
}
