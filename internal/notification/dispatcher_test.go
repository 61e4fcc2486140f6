package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/internal/directory"
)

var (
	noon    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	monday  = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	patient = auth.Principal{UserID: "P1", Roles: []string{auth.RolePatient}}
	doctor  = auth.Principal{UserID: "D1", Roles: []string{auth.RoleDoctor}}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type dispatchHarness struct {
	d        *Dispatcher
	repo     *memRepo
	contacts *fakeContacts
	clock    *clock
	email    *fakeChannel
	sms      *fakeChannel
	voice    *fakeChannel
	push     *fakeChannel
}

func newDispatchHarness(t *testing.T) *dispatchHarness {
	t.Helper()
	h := &dispatchHarness{
		repo: newMemRepo(),
		contacts: &fakeContacts{contacts: map[string]directory.ContactInfo{
			"P1": {Name: "Pat", Email: "pat@example.com", Phone: "+15550100"},
			"D1": {Name: "Doc", Email: "doc@example.com", Phone: "+15550101"},
		}},
		clock: &clock{now: noon},
		email: &fakeChannel{},
		sms:   &fakeChannel{},
		voice: &fakeChannel{},
		push:  &fakeChannel{},
	}
	cfg := config.Config{
		ClinicLocation:      time.UTC,
		ChannelTimeout:      100 * time.Millisecond,
		DirectoryTimeout:    100 * time.Millisecond,
		MaxDeliveryAttempts: 3,
		DispatchWorkers:     2,
		DispatchQueueSize:   2,
	}
	h.d = NewDispatcher(h.repo, h.contacts, Senders{Email: h.email, SMS: h.sms, Voice: h.voice, Push: h.push},
		cfg, nil, WithClock(h.clock.Now))
	return h
}

func sampleAppointment() appointment.Appointment {
	return appointment.Appointment{
		ID:              uuid.New(),
		PatientID:       "P1",
		DoctorID:        "D1",
		AppointmentDate: monday,
		TimeSlot:        "09:00-09:30",
		Status:          appointment.StatusScheduled,
	}
}

func TestOnAppointmentEvent_RequestedNotifiesPatientOnly(t *testing.T) {
	h := newDispatchHarness(t)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentRequested, sampleAppointment())
	require.NoError(t, err)
	require.Len(t, created, 1)

	n := created[0]
	assert.Equal(t, "P1", n.UserID)
	assert.Equal(t, UserPatient, n.UserType)
	assert.Equal(t, StatusSent, n.Status)
	assert.True(t, n.Channels.Email.Sent)
	assert.True(t, n.Channels.Push.Sent)
	assert.False(t, n.Channels.SMS.Sent)
	assert.Equal(t, 1, n.Attempts)
	assert.Contains(t, n.Message, "March 2, 2026 at 09:00-09:30")
	assert.Equal(t, StatusSent, h.repo.get(n.ID).Status)
}

func TestOnAppointmentEvent_NotifiesBothAudiences(t *testing.T) {
	h := newDispatchHarness(t)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentScheduled, sampleAppointment())
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, UserPatient, created[0].UserType)
	assert.Equal(t, UserDoctor, created[1].UserType)
	assert.Equal(t, "D1", created[1].UserID)
}

func TestOnAppointmentEvent_CompletedHasNoDoctorMessage(t *testing.T) {
	h := newDispatchHarness(t)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentCompleted, sampleAppointment())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, UserPatient, created[0].UserType)
}

func TestOnAppointmentEvent_RejectsUnknownType(t *testing.T) {
	h := newDispatchHarness(t)

	_, err := h.d.OnAppointmentEvent(context.Background(), Type("appointment_lost"), sampleAppointment())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDeliver_AllPreferencesDisabledFails(t *testing.T) {
	h := newDispatchHarness(t)
	off := DefaultPreference("P1", UserPatient)
	off.Email, off.Push = false, false
	_, _ = h.repo.UpsertPreference(context.Background(), &off)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentRequested, sampleAppointment())
	require.NoError(t, err)
	require.Len(t, created, 1)

	n := h.repo.get(created[0].ID)
	assert.Equal(t, StatusFailed, n.Status)
	assert.False(t, n.Retryable)
	assert.False(t, n.Channels.Email.Sent)
	assert.False(t, n.Channels.SMS.Sent)
	assert.False(t, n.Channels.Voice.Sent)
	assert.False(t, n.Channels.Push.Sent)
	assert.Equal(t, 0, h.email.count()+h.push.count())
}

func TestDeliver_DoNotDisturbDefersAllButReminders(t *testing.T) {
	h := newDispatchHarness(t)
	h.clock.Set(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	for _, id := range []string{"P1", "D1"} {
		pref := DefaultPreference(id, UserPatient)
		pref.DoNotDisturb = DoNotDisturb{Enabled: true, From: "22:00", To: "07:00"}
		_, _ = h.repo.UpsertPreference(context.Background(), &pref)
	}

	cancelled, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentCancelled, sampleAppointment())
	require.NoError(t, err)
	for _, n := range cancelled {
		stored := h.repo.get(n.ID)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 0, stored.Attempts)
		assert.True(t, stored.Retryable)
	}
	assert.Equal(t, 0, h.email.count())

	reminders, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentReminder, sampleAppointment())
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	for _, n := range reminders {
		assert.Equal(t, StatusSent, h.repo.get(n.ID).Status)
	}
}

func TestDeliver_DirectoryFailureLeavesPending(t *testing.T) {
	h := newDispatchHarness(t)
	h.contacts.err = apperr.Dependency("Directory service unavailable", nil)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentRequested, sampleAppointment())
	require.NoError(t, err)
	n := h.repo.get(created[0].ID)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, 1, n.Attempts)
	assert.NotEmpty(t, n.LastError)
	assert.True(t, n.Retryable)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.d.Deliver(context.Background(), &n))
	}
	n = h.repo.get(n.ID)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, 3, n.Attempts)
	assert.False(t, n.Retryable, "attempt budget exhausted")
}

func TestDeliver_RetrySkipsChannelsAlreadySent(t *testing.T) {
	h := newDispatchHarness(t)
	pref := DefaultPreference("P1", UserPatient)
	pref.Push = false
	pref.SMS = true
	_, _ = h.repo.UpsertPreference(context.Background(), &pref)
	h.email.fail(errProviderDown)
	h.sms.fail(errProviderDown)

	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentRequested, sampleAppointment())
	require.NoError(t, err)
	n := h.repo.get(created[0].ID)
	assert.Equal(t, StatusFailed, n.Status)
	assert.True(t, n.Retryable)
	assert.Contains(t, n.LastError, "provider down")

	h.email.fail(nil)
	require.NoError(t, h.d.Deliver(context.Background(), &n))
	n = h.repo.get(n.ID)
	assert.Equal(t, StatusSent, n.Status)
	assert.True(t, n.Channels.Email.Sent)
	assert.Equal(t, DeliveryFailed, n.Channels.SMS.Status)
	assert.Equal(t, 2, h.email.count())

	require.NoError(t, h.d.Deliver(context.Background(), &n))
	assert.Equal(t, 2, h.email.count(), "sent notifications are not redelivered")
}

func TestDeliver_SlowChannelDoesNotBlockOthers(t *testing.T) {
	h := newDispatchHarness(t)
	pref := DefaultPreference("P1", UserPatient)
	pref.Voice = true
	_, _ = h.repo.UpsertPreference(context.Background(), &pref)
	h.voice.block = true

	start := time.Now()
	created, err := h.d.OnAppointmentEvent(context.Background(), TypeAppointmentRequested, sampleAppointment())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	n := h.repo.get(created[0].ID)
	assert.Equal(t, StatusSent, n.Status)
	assert.True(t, n.Channels.Email.Sent)
	assert.False(t, n.Channels.Voice.Sent)
	assert.Equal(t, DeliveryFailed, n.Channels.Voice.Status)
}

func TestPublish_NeverBlocks(t *testing.T) {
	h := newDispatchHarness(t)
	ev := appointment.Event{Type: appointment.EventAppointmentScheduled, Appointment: sampleAppointment()}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.d.Publish(context.Background(), ev)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Len(t, h.d.queue, 2)
}

func TestRun_ConsumesQueuedEvents(t *testing.T) {
	h := newDispatchHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.d.Run(ctx) }()

	h.d.Publish(ctx, appointment.Event{Type: appointment.EventAppointmentConfirmed, Appointment: sampleAppointment()})

	require.Eventually(t, func() bool { return len(h.repo.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-errc)
}

func TestRun_DrainsEventsQueuedAtShutdown(t *testing.T) {
	h := newDispatchHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.d.Publish(ctx, appointment.Event{Type: appointment.EventAppointmentCancelled, Appointment: sampleAppointment()})
	h.d.Publish(ctx, appointment.Event{Type: appointment.EventAppointmentConfirmed, Appointment: sampleAppointment()})

	require.NoError(t, h.d.Run(ctx))
	assert.Empty(t, h.d.queue)

	stored := h.repo.all()
	require.Len(t, stored, 4)
	for _, n := range stored {
		assert.Equal(t, StatusSent, n.Status, "delivery runs on a live context after shutdown")
	}
}

func TestRun_DrainStopsAtTimeout(t *testing.T) {
	h := newDispatchHarness(t)
	h.d.drainTimeout = time.Nanosecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.d.Publish(ctx, appointment.Event{Type: appointment.EventAppointmentConfirmed, Appointment: sampleAppointment()})
	time.Sleep(time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}
}

func TestMarkAsRead(t *testing.T) {
	h := newDispatchHarness(t)
	ctx := context.Background()
	created, err := h.d.OnAppointmentEvent(ctx, TypeAppointmentScheduled, sampleAppointment())
	require.NoError(t, err)
	patientNote := created[0]

	_, err = h.d.MarkAsRead(ctx, doctor, patientNote.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = h.d.MarkAsRead(ctx, patient, uuid.New())
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	got, err := h.d.MarkAsRead(ctx, patient, patientNote.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, got.Status)
	assert.NotNil(t, got.ReadAt)

	unread, err := h.d.List(ctx, patient, "")
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestMarkAllAsRead_Idempotent(t *testing.T) {
	h := newDispatchHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.d.OnAppointmentEvent(ctx, TypeAppointmentScheduled, sampleAppointment())
		require.NoError(t, err)
	}

	count, err := h.d.MarkAllAsRead(ctx, patient, "patient")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	first := h.repo.all()

	count, err = h.d.MarkAllAsRead(ctx, patient, "patient")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.ElementsMatch(t, first, h.repo.all())

	doctorUnread, err := h.d.List(ctx, doctor, "doctor")
	require.NoError(t, err)
	assert.Len(t, doctorUnread, 3)

	_, err = h.d.MarkAllAsRead(ctx, patient, "doctor")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestPreferences(t *testing.T) {
	h := newDispatchHarness(t)
	ctx := context.Background()

	pref, err := h.d.GetPreferences(ctx, doctor, "")
	require.NoError(t, err)
	assert.True(t, pref.Email)
	assert.False(t, pref.SMS)
	assert.Equal(t, VoiceTextToSpeech, pref.VoiceType)
	assert.Equal(t, UserDoctor, pref.Role)

	sms := true
	updated, err := h.d.UpdatePreferences(ctx, doctor, "", PreferenceUpdate{
		SMS:          &sms,
		DoNotDisturb: &DoNotDisturb{Enabled: true, From: "21:30", To: "06:00"},
	})
	require.NoError(t, err)
	assert.True(t, updated.SMS)
	assert.True(t, updated.Email)
	assert.Equal(t, "21:30", updated.DoNotDisturb.From)

	bad := VoiceType("whisper")
	_, err = h.d.UpdatePreferences(ctx, doctor, "", PreferenceUpdate{VoiceType: &bad})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = h.d.UpdatePreferences(ctx, doctor, "", PreferenceUpdate{DoNotDisturb: &DoNotDisturb{From: "late", To: "07:00"}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDefaultPreference_AdminUsesDoctorProfile(t *testing.T) {
	pref := DefaultPreference("A1", UserAdmin)
	assert.Equal(t, UserDoctor, pref.Role)
	assert.Equal(t, "22:00", pref.DoNotDisturb.From)
	assert.Equal(t, "07:00", pref.DoNotDisturb.To)
	assert.False(t, pref.DoNotDisturb.Enabled)
}
