package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/internal/config"
	"github.com/hackgods/appointment-scheduling-core/internal/directory"
	"github.com/hackgods/appointment-scheduling-core/internal/metrics"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

const errNoChannel = "no delivery channel available"

// ContactDirectory resolves how to reach a user.
type ContactDirectory interface {
	GetContactInfo(ctx context.Context, userID, userType string) (directory.ContactInfo, error)
}

// Senders groups the outbound channels. A nil sender disables its channel.
type Senders struct {
	Email EmailSender
	SMS   SMSSender
	Voice VoiceCaller
	Push  PushSender
}

// Dispatcher turns appointment events into notifications and delivers them.
// It only ever writes notification and preference records.
type Dispatcher struct {
	repo      Repository
	directory ContactDirectory
	senders   Senders
	metrics   *metrics.DispatchMetrics
	logger    *logging.Logger
	now       func() time.Time

	loc              *time.Location
	workers          int
	channelTimeout   time.Duration
	directoryTimeout time.Duration
	maxAttempts      int
	drainTimeout     time.Duration

	queue chan appointment.Event
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(repo Repository, dir ContactDirectory, senders Senders, cfg config.Config, logger *logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		repo:             repo,
		directory:        dir,
		senders:          senders,
		logger:           logger,
		now:              time.Now,
		loc:              cfg.ClinicLocation,
		workers:          cfg.DispatchWorkers,
		channelTimeout:   cfg.ChannelTimeout,
		directoryTimeout: cfg.DirectoryTimeout,
		maxAttempts:      cfg.MaxDeliveryAttempts,
		drainTimeout:     cfg.ShutdownTimeout,
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.channelTimeout <= 0 {
		d.channelTimeout = 10 * time.Second
	}
	if d.directoryTimeout <= 0 {
		d.directoryTimeout = 5 * time.Second
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 5
	}
	if d.drainTimeout <= 0 {
		d.drainTimeout = 10 * time.Second
	}
	queueSize := cfg.DispatchQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	d.queue = make(chan appointment.Event, queueSize)

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped; the periodic sweep only covers notifications that were
// already created.
func (d *Dispatcher) Publish(ctx context.Context, ev appointment.Event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.ObserveQueueDropped()
		d.logger.Error("dispatch queue full, dropping event",
			"event", ev.Type, "appointment_id", ev.Appointment.ID)
	}
}

// Run consumes queued events until ctx is cancelled, then drains whatever is
// still queued for at most the drain timeout. Events are handled on a context
// detached from ctx so cancellation never interrupts a delivery in flight.
func (d *Dispatcher) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					d.drain(work)
					return nil
				case ev := <-d.queue:
					d.handle(work, ev)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			if left := len(d.queue); left > 0 {
				d.logger.Error("drain timeout reached, dropping queued events", "remaining", left)
			}
			return
		case ev := <-d.queue:
			d.handle(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev appointment.Event) {
	if _, err := d.OnAppointmentEvent(ctx, Type(ev.Type), ev.Appointment); err != nil {
		d.logger.Error("failed to handle appointment event",
			"event", ev.Type, "appointment_id", ev.Appointment.ID, "error", err)
	}
}

// OnAppointmentEvent creates the patient and doctor notifications for an event
// and attempts delivery of each. Delivery failures are recorded on the
// notifications, not returned.
func (d *Dispatcher) OnAppointmentEvent(ctx context.Context, t Type, appt appointment.Appointment) ([]Notification, error) {
	if !t.Valid() {
		return nil, apperr.Validation("Invalid notification type: " + string(t))
	}

	type recipient struct {
		userID   string
		userType UserType
	}
	recipients := []recipient{{appt.PatientID, UserPatient}}
	if t != TypeAppointmentRequested {
		recipients = append(recipients, recipient{appt.DoctorID, UserDoctor})
	}

	now := d.now().UTC()
	var created []Notification
	for _, r := range recipients {
		message := Message(t, r.userType, appt.AppointmentDate, appt.TimeSlot)
		if message == "" || r.userID == "" {
			continue
		}

		n, err := d.repo.CreateNotification(ctx, &Notification{
			ID:            uuid.New(),
			UserID:        r.userID,
			UserType:      r.userType,
			AppointmentID: appt.ID,
			Type:          t,
			Message:       message,
			Status:        StatusPending,
			Channels:      newChannels(),
			Retryable:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if errors.Is(err, ErrDuplicateReminder) {
			d.logger.Info("reminder already exists", "appointment_id", appt.ID, "user_type", r.userType)
			continue
		}
		if err != nil {
			return created, apperr.Internal("create notification", err)
		}
		d.metrics.ObserveCreated(string(t), string(r.userType))
		created = append(created, *n)
	}

	for i := range created {
		if err := d.Deliver(ctx, &created[i]); err != nil {
			d.logger.Error("failed to record delivery", "notification_id", created[i].ID, "error", err)
		}
	}
	return created, nil
}

type channelResult struct {
	channel  Channel
	delivery ChannelDelivery
}

// Deliver attempts every enabled channel that has not already succeeded. The
// returned error only reports a failure to persist the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, n *Notification) error {
	if n.Status == StatusSent || n.Status == StatusRead || !n.Retryable {
		return nil
	}
	log := d.logger.With("notification_id", n.ID, "user_id", n.UserID, "type", n.Type)

	pref, err := d.preference(ctx, n.UserID, n.UserType)
	if err != nil {
		return d.deferDelivery(ctx, n, err)
	}

	dirCtx, cancel := context.WithTimeout(ctx, d.directoryTimeout)
	contact, err := d.directory.GetContactInfo(dirCtx, n.UserID, string(n.UserType))
	cancel()
	if err != nil {
		log.Warn("contact lookup failed, leaving notification pending", "error", err)
		return d.deferDelivery(ctx, n, err)
	}

	if n.Type != TypeAppointmentReminder && InDoNotDisturb(pref.DoNotDisturb, d.now().In(d.loc)) {
		d.metrics.ObserveDNDSuppressed()
		log.Info("skipping delivery during do not disturb")
		return nil
	}

	eligible := d.eligibleChannels(*pref, contact)
	if len(eligible) == 0 && !n.Channels.AnySent() {
		n.Status = StatusFailed
		n.Retryable = false
		n.LastError = errNoChannel
		n.UpdatedAt = d.now().UTC()
		log.Warn("no delivery channel available")
		return d.save(ctx, n)
	}

	var (
		mu      sync.Mutex
		results []channelResult
		g       errgroup.Group
	)
	subject := Subject(n.Type)
	for _, ch := range eligible {
		if n.Channels.get(ch).Sent {
			continue
		}
		g.Go(func() error {
			delivery := d.send(ctx, ch, n, *pref, contact, subject)
			mu.Lock()
			results = append(results, channelResult{channel: ch, delivery: delivery})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failures []string
	for _, r := range results {
		*n.Channels.get(r.channel) = r.delivery
		if !r.delivery.Sent {
			failures = append(failures, string(r.channel)+": "+r.delivery.Error)
		}
	}

	n.Attempts++
	n.UpdatedAt = d.now().UTC()
	if n.Channels.AnySent() {
		n.Status = StatusSent
		n.LastError = ""
	} else {
		n.Status = StatusFailed
		n.LastError = strings.Join(failures, "; ")
		n.Retryable = n.Attempts < d.maxAttempts
	}
	return d.save(ctx, n)
}

func (d *Dispatcher) eligibleChannels(pref Preference, contact directory.ContactInfo) []Channel {
	var out []Channel
	for _, ch := range allChannels {
		if !pref.enabled(ch) {
			continue
		}
		switch ch {
		case ChannelEmail:
			if contact.Email == "" || d.senders.Email == nil {
				continue
			}
		case ChannelSMS:
			if contact.Phone == "" || d.senders.SMS == nil {
				continue
			}
		case ChannelVoice:
			if contact.Phone == "" || d.senders.Voice == nil {
				continue
			}
		case ChannelPush:
			if d.senders.Push == nil {
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, n *Notification, pref Preference, contact directory.ContactInfo, subject string) ChannelDelivery {
	ctx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	started := d.now()
	var (
		providerID string
		err        error
	)
	switch ch {
	case ChannelEmail:
		providerID, err = d.senders.Email.Send(ctx, EmailMessage{
			To:      contact.Email,
			ToName:  contact.Name,
			Subject: subject,
			Body:    n.Message,
			HTML:    EmailHTML(subject, n.Message),
		})
	case ChannelSMS:
		providerID, err = d.senders.SMS.SendSMS(ctx, contact.Phone, n.Message)
	case ChannelVoice:
		providerID, err = d.senders.Voice.Call(ctx, contact.Phone, n.Message, pref.VoiceType, pref.Language)
	case ChannelPush:
		providerID, err = d.senders.Push.Push(ctx, PushMessage{
			UserID:         n.UserID,
			Title:          subject,
			Body:           n.Message,
			NotificationID: n.ID.String(),
		})
	}

	at := d.now().UTC()
	if err != nil {
		d.metrics.ObserveDelivery(string(ch), string(DeliveryFailed), at.Sub(started).Seconds())
		d.logger.Warn("channel delivery failed", "channel", ch, "notification_id", n.ID, "error", err)
		return ChannelDelivery{Status: DeliveryFailed, SentAt: &at, Error: err.Error()}
	}
	d.metrics.ObserveDelivery(string(ch), string(DeliverySent), at.Sub(started).Seconds())
	return ChannelDelivery{Sent: true, Status: DeliverySent, SentAt: &at, ProviderMessageID: providerID}
}

// deferDelivery keeps the notification pending after a collaborator failure
// so the sweep can retry it, until the attempt budget runs out.
func (d *Dispatcher) deferDelivery(ctx context.Context, n *Notification, cause error) error {
	n.Attempts++
	n.LastError = cause.Error()
	n.UpdatedAt = d.now().UTC()
	if n.Attempts >= d.maxAttempts {
		n.Status = StatusFailed
		n.Retryable = false
	} else {
		n.Status = StatusPending
	}
	return d.save(ctx, n)
}

func (d *Dispatcher) save(ctx context.Context, n *Notification) error {
	if err := d.repo.SaveDelivery(context.WithoutCancel(ctx), n); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// preference loads the user's settings, creating the defaults on first use.
func (d *Dispatcher) preference(ctx context.Context, userID string, userType UserType) (*Preference, error) {
	pref, err := d.repo.GetPreference(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, ErrPreferenceNotFound) {
		return nil, err
	}

	def := DefaultPreference(userID, userType)
	def.UpdatedAt = d.now().UTC()
	return d.repo.UpsertPreference(ctx, &def)
}

// List returns the caller's unread notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, p auth.Principal, userType string) ([]Notification, error) {
	ut, err := resolveUserType(p, userType)
	if err != nil {
		return nil, err
	}
	out, err := d.repo.ListForUser(ctx, p.UserID, ut, true)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	return out, nil
}

func (d *Dispatcher) MarkAsRead(ctx context.Context, p auth.Principal, id uuid.UUID) (*Notification, error) {
	n, err := d.repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil, err
		}
		return nil, apperr.Internal("load notification", err)
	}
	if n.UserID != p.UserID {
		return nil, apperr.Authorization("You don't have permission to update this notification")
	}

	at := d.now().UTC()
	if err := d.repo.MarkRead(ctx, id, at); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil, err
		}
		return nil, apperr.Internal("mark notification read", err)
	}
	n.Status = StatusRead
	n.ReadAt = &at
	n.UpdatedAt = at
	return n, nil
}

// MarkAllAsRead is idempotent: a second call finds nothing left to update.
func (d *Dispatcher) MarkAllAsRead(ctx context.Context, p auth.Principal, userType string) (int64, error) {
	ut, err := resolveUserType(p, userType)
	if err != nil {
		return 0, err
	}
	count, err := d.repo.MarkAllRead(ctx, p.UserID, ut, d.now().UTC())
	if err != nil {
		return 0, apperr.Internal("mark notifications read", err)
	}
	return count, nil
}

func (d *Dispatcher) GetPreferences(ctx context.Context, p auth.Principal, userType string) (*Preference, error) {
	ut, err := resolveUserType(p, userType)
	if err != nil {
		return nil, err
	}
	pref, err := d.preference(ctx, p.UserID, ut)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch user preferences", err)
	}
	return pref, nil
}

// PreferenceUpdate carries only the fields the caller wants to change.
type PreferenceUpdate struct {
	Email        *bool
	SMS          *bool
	Voice        *bool
	Push         *bool
	VoiceType    *VoiceType
	Language     *string
	DoNotDisturb *DoNotDisturb
}

func (u PreferenceUpdate) validate() error {
	if u.VoiceType != nil && !u.VoiceType.Valid() {
		return apperr.Validation("voiceType must be one of recorded, text_to_speech, both")
	}
	if u.Language != nil && strings.TrimSpace(*u.Language) == "" {
		return apperr.Validation("language cannot be empty")
	}
	if u.DoNotDisturb != nil {
		if _, err := minuteOfDay(u.DoNotDisturb.From); err != nil {
			return apperr.Validation("doNotDisturb.from must be HH:MM")
		}
		if _, err := minuteOfDay(u.DoNotDisturb.To); err != nil {
			return apperr.Validation("doNotDisturb.to must be HH:MM")
		}
	}
	return nil
}

func (d *Dispatcher) UpdatePreferences(ctx context.Context, p auth.Principal, userType string, u PreferenceUpdate) (*Preference, error) {
	ut, err := resolveUserType(p, userType)
	if err != nil {
		return nil, err
	}
	if err := u.validate(); err != nil {
		return nil, err
	}

	pref, err := d.preference(ctx, p.UserID, ut)
	if err != nil {
		return nil, apperr.Internal("Failed to update preferences", err)
	}
	if u.Email != nil {
		pref.Email = *u.Email
	}
	if u.SMS != nil {
		pref.SMS = *u.SMS
	}
	if u.Voice != nil {
		pref.Voice = *u.Voice
	}
	if u.Push != nil {
		pref.Push = *u.Push
	}
	if u.VoiceType != nil {
		pref.VoiceType = *u.VoiceType
	}
	if u.Language != nil {
		pref.Language = *u.Language
	}
	if u.DoNotDisturb != nil {
		pref.DoNotDisturb = *u.DoNotDisturb
	}
	pref.UpdatedAt = d.now().UTC()

	saved, err := d.repo.UpsertPreference(ctx, pref)
	if err != nil {
		return nil, apperr.Internal("Failed to update preferences", err)
	}
	return saved, nil
}

// resolveUserType picks the audience the caller is acting as. An explicit
// value must be one of the caller's roles.
func resolveUserType(p auth.Principal, requested string) (UserType, error) {
	if requested != "" {
		ut := UserType(requested)
		if !ut.Valid() {
			return "", apperr.Validation("userType must be one of patient, doctor, admin")
		}
		if !p.HasRole(requested) {
			return "", apperr.Authorization("You don't have permission to access these notifications")
		}
		return ut, nil
	}
	for _, ut := range []UserType{UserPatient, UserDoctor, UserAdmin} {
		if p.HasRole(string(ut)) {
			return ut, nil
		}
	}
	return "", apperr.Authorization("You don't have permission to access these notifications")
}
