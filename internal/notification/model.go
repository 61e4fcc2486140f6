package notification

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
)

// Type names the appointment event a notification reports on.
type Type string

const (
	TypeAppointmentRequested   = Type(appointment.EventAppointmentRequested)
	TypeAppointmentScheduled   = Type(appointment.EventAppointmentScheduled)
	TypeAppointmentConfirmed   = Type(appointment.EventAppointmentConfirmed)
	TypeAppointmentCancelled   = Type(appointment.EventAppointmentCancelled)
	TypeAppointmentCompleted   = Type(appointment.EventAppointmentCompleted)
	TypeAppointmentRescheduled = Type(appointment.EventAppointmentRescheduled)
	TypeAppointmentReminder    = Type("appointment_reminder")
)

var allTypes = []Type{
	TypeAppointmentRequested,
	TypeAppointmentScheduled,
	TypeAppointmentConfirmed,
	TypeAppointmentCancelled,
	TypeAppointmentCompleted,
	TypeAppointmentReminder,
	TypeAppointmentRescheduled,
}

func (t Type) Valid() bool {
	return slices.Contains(allTypes, t)
}

type UserType string

const (
	UserPatient UserType = "patient"
	UserDoctor  UserType = "doctor"
	UserAdmin   UserType = "admin"
)

func (u UserType) Valid() bool {
	return u == UserPatient || u == UserDoctor || u == UserAdmin
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusRead    Status = "read"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelPush  Channel = "push"
)

var allChannels = []Channel{ChannelEmail, ChannelSMS, ChannelVoice, ChannelPush}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// ChannelDelivery records the outcome of the latest attempt on one channel.
type ChannelDelivery struct {
	Sent              bool           `json:"sent"`
	Status            DeliveryStatus `json:"status"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Error             string         `json:"error,omitempty"`
}

type Channels struct {
	Email ChannelDelivery `json:"email"`
	SMS   ChannelDelivery `json:"sms"`
	Voice ChannelDelivery `json:"voice"`
	Push  ChannelDelivery `json:"push"`
}

func newChannels() Channels {
	pending := ChannelDelivery{Status: DeliveryPending}
	return Channels{Email: pending, SMS: pending, Voice: pending, Push: pending}
}

func (c *Channels) get(ch Channel) *ChannelDelivery {
	switch ch {
	case ChannelEmail:
		return &c.Email
	case ChannelSMS:
		return &c.SMS
	case ChannelVoice:
		return &c.Voice
	case ChannelPush:
		return &c.Push
	}
	return nil
}

func (c Channels) AnySent() bool {
	return c.Email.Sent || c.SMS.Sent || c.Voice.Sent || c.Push.Sent
}

type Notification struct {
	ID            uuid.UUID
	UserID        string
	UserType      UserType
	AppointmentID uuid.UUID
	Type          Type
	Message       string
	Status        Status
	Channels      Channels
	Attempts      int
	Retryable     bool
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ReadAt        *time.Time
}

type VoiceType string

const (
	VoiceTextToSpeech VoiceType = "text_to_speech"
	VoiceRecorded     VoiceType = "recorded"
	VoiceBoth         VoiceType = "both"
)

func (v VoiceType) Valid() bool {
	return v == VoiceTextToSpeech || v == VoiceRecorded || v == VoiceBoth
}

// DoNotDisturb is a daily [From, To) window in the clinic's local time.
// From later than To wraps past midnight.
type DoNotDisturb struct {
	Enabled bool   `json:"enabled"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type Preference struct {
	UserID       string
	Role         UserType
	Email        bool
	SMS          bool
	Voice        bool
	Push         bool
	VoiceType    VoiceType
	Language     string
	DoNotDisturb DoNotDisturb
	UpdatedAt    time.Time
}

// DefaultPreference is what a user gets before they change anything.
// Admins share the doctor profile.
func DefaultPreference(userID string, userType UserType) Preference {
	role := userType
	if role == UserAdmin {
		role = UserDoctor
	}
	return Preference{
		UserID:    userID,
		Role:      role,
		Email:     true,
		Push:      true,
		VoiceType: VoiceTextToSpeech,
		Language:  "en",
		DoNotDisturb: DoNotDisturb{
			From: "22:00",
			To:   "07:00",
		},
	}
}

func (p Preference) enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	case ChannelVoice:
		return p.Voice
	case ChannelPush:
		return p.Push
	}
	return false
}
