package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/notification"
)

// Envelope wraps every JSON response body.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type RequestAppointmentRequest struct {
	DoctorID        string `json:"doctorId"`
	AppointmentDate string `json:"appointmentDate"`
	TimeSlot        string `json:"timeSlot"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes,omitempty"`
}

type ScheduleAppointmentRequest struct {
	AppointmentDate string `json:"appointmentDate,omitempty"`
	TimeSlot        string `json:"timeSlot,omitempty"`
	Status          string `json:"status,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type CompleteAppointmentRequest struct {
	Notes string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       string    `json:"patientId"`
	DoctorID        string    `json:"doctorId"`
	AppointmentDate string    `json:"appointmentDate"`
	TimeSlot        string    `json:"timeSlot"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes,omitempty"`
	CreatedBy       string    `json:"createdBy"`
	UpdatedBy       string    `json:"updatedBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		AppointmentDate: appointment.FormatDate(a.AppointmentDate),
		TimeSlot:        a.TimeSlot,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedBy:       a.CreatedBy,
		UpdatedBy:       a.UpdatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

type NotificationResponse struct {
	ID            uuid.UUID             `json:"id"`
	UserID        string                `json:"userId"`
	UserType      string                `json:"userType"`
	AppointmentID uuid.UUID             `json:"appointmentId"`
	Type          string                `json:"type"`
	Message       string                `json:"message"`
	Status        string                `json:"status"`
	Channels      notification.Channels `json:"channels"`
	Attempts      int                   `json:"attempts"`
	LastError     string                `json:"lastError,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	ReadAt        *time.Time            `json:"readAt,omitempty"`
}

func toNotificationResponse(n *notification.Notification) NotificationResponse {
	return NotificationResponse{
		ID:            n.ID,
		UserID:        n.UserID,
		UserType:      string(n.UserType),
		AppointmentID: n.AppointmentID,
		Type:          string(n.Type),
		Message:       n.Message,
		Status:        string(n.Status),
		Channels:      n.Channels,
		Attempts:      n.Attempts,
		LastError:     n.LastError,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
		ReadAt:        n.ReadAt,
	}
}

func toNotificationResponses(list []notification.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(list))
	for i := range list {
		out = append(out, toNotificationResponse(&list[i]))
	}
	return out
}

type ChannelPreferences struct {
	Email *bool `json:"email,omitempty"`
	SMS   *bool `json:"sms,omitempty"`
	Voice *bool `json:"voice,omitempty"`
	Push  *bool `json:"push,omitempty"`
}

type PreferencesRequest struct {
	UserType     string                     `json:"userType,omitempty"`
	Channels     ChannelPreferences         `json:"channels"`
	VoiceType    *string                    `json:"voiceType,omitempty"`
	Language     *string                    `json:"language,omitempty"`
	DoNotDisturb *notification.DoNotDisturb `json:"doNotDisturb,omitempty"`
}

func (req PreferencesRequest) update() notification.PreferenceUpdate {
	u := notification.PreferenceUpdate{
		Email:        req.Channels.Email,
		SMS:          req.Channels.SMS,
		Voice:        req.Channels.Voice,
		Push:         req.Channels.Push,
		Language:     req.Language,
		DoNotDisturb: req.DoNotDisturb,
	}
	if req.VoiceType != nil {
		vt := notification.VoiceType(*req.VoiceType)
		u.VoiceType = &vt
	}
	return u
}

type PreferencesResponse struct {
	UserID       string                    `json:"userId"`
	Role         string                    `json:"role"`
	Channels     map[string]bool           `json:"channels"`
	VoiceType    string                    `json:"voiceType"`
	Language     string                    `json:"language"`
	DoNotDisturb notification.DoNotDisturb `json:"doNotDisturb"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

func toPreferencesResponse(p *notification.Preference) PreferencesResponse {
	return PreferencesResponse{
		UserID: p.UserID,
		Role:   string(p.Role),
		Channels: map[string]bool{
			"email": p.Email,
			"sms":   p.SMS,
			"voice": p.Voice,
			"push":  p.Push,
		},
		VoiceType:    string(p.VoiceType),
		Language:     p.Language,
		DoNotDisturb: p.DoNotDisturb,
		UpdatedAt:    p.UpdatedAt,
	}
}

type ReadAllRequest struct {
	UserType string `json:"userType,omitempty"`
}

// WebhookRequest is an appointment event pushed by another service.
// AppointmentData is either a full appointment object or its id.
type WebhookRequest struct {
	EventType       string          `json:"eventType"`
	AppointmentData json.RawMessage `json:"appointmentData"`
}

type webhookAppointment struct {
	ID              uuid.UUID `json:"id"`
	PatientID       string    `json:"patientId"`
	DoctorID        string    `json:"doctorId"`
	AppointmentDate string    `json:"appointmentDate"`
	TimeSlot        string    `json:"timeSlot"`
	Status          string    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(apperr.KindOf(err)), Envelope{Status: "error", Message: apperr.Message(err)})
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid JSON body")
	}
	return nil
}
