package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/internal/notification"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

type NotificationService interface {
	OnAppointmentEvent(ctx context.Context, t notification.Type, appt appointment.Appointment) ([]notification.Notification, error)
	List(ctx context.Context, p auth.Principal, userType string) ([]notification.Notification, error)
	MarkAsRead(ctx context.Context, p auth.Principal, id uuid.UUID) (*notification.Notification, error)
	MarkAllAsRead(ctx context.Context, p auth.Principal, userType string) (int64, error)
	GetPreferences(ctx context.Context, p auth.Principal, userType string) (*notification.Preference, error)
	UpdatePreferences(ctx context.Context, p auth.Principal, userType string, u notification.PreferenceUpdate) (*notification.Preference, error)
}

// AppointmentLookup resolves webhook payloads that only carry an id.
type AppointmentLookup interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

const webhookSecretHeader = "X-Webhook-Secret"

var errInvalidWebhookSecret = apperr.Authentication("Invalid webhook secret")

func listNotificationsHandler(svc NotificationService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("userType"))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toNotificationResponses(list))
	}
}

func markNotificationReadHandler(svc NotificationService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, apperr.Validation("Invalid notification ID"))
			return
		}
		n, err := svc.MarkAsRead(r.Context(), principalFrom(r.Context()), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Notification marked as read", toNotificationResponse(n))
	}
}

func markAllNotificationsReadHandler(svc NotificationService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReadAllRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.UserType == "" {
			req.UserType = r.URL.Query().Get("userType")
		}
		count, err := svc.MarkAllAsRead(r.Context(), principalFrom(r.Context()), req.UserType)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "All notifications marked as read", map[string]int64{"updated": count})
	}
}

func getPreferencesHandler(svc NotificationService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pref, err := svc.GetPreferences(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("userType"))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toPreferencesResponse(pref))
	}
}

func updatePreferencesHandler(svc NotificationService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreferencesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.UserType == "" {
			req.UserType = r.URL.Query().Get("userType")
		}
		pref, err := svc.UpdatePreferences(r.Context(), principalFrom(r.Context()), req.UserType, req.update())
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Notification preferences updated", toPreferencesResponse(pref))
	}
}

// webhookHandler accepts appointment events from other services. An empty
// secret disables the endpoint.
func webhookHandler(svc NotificationService, lookup AppointmentLookup, secret string, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get(webhookSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			writeError(w, errInvalidWebhookSecret)
			return
		}

		var req WebhookRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		t := notification.Type(req.EventType)
		if !t.Valid() {
			writeError(w, apperr.Validation("Invalid event type"))
			return
		}

		appt, err := resolveWebhookAppointment(r.Context(), lookup, req.AppointmentData)
		if err != nil {
			fail(logger, w, r, err)
			return
		}

		// Delivery continues if the caller disconnects.
		created, err := svc.OnAppointmentEvent(context.WithoutCancel(r.Context()), t, *appt)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusCreated, "Notification created successfully", toNotificationResponses(created))
	}
}

// resolveWebhookAppointment accepts either an id string or an appointment
// object. Objects missing their participants are loaded by id.
func resolveWebhookAppointment(ctx context.Context, lookup AppointmentLookup, raw json.RawMessage) (*appointment.Appointment, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperr.Validation("Appointment data is required")
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, errInvalidID
		}
		return lookupAppointment(ctx, lookup, parsed)
	}

	var body webhookAppointment
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apperr.Validation("Invalid appointment data")
	}
	if body.PatientID == "" || body.DoctorID == "" || body.AppointmentDate == "" {
		if body.ID == uuid.Nil {
			return nil, apperr.Validation("Invalid appointment data")
		}
		return lookupAppointment(ctx, lookup, body.ID)
	}

	day, err := appointment.ParseDate(body.AppointmentDate)
	if err != nil {
		return nil, apperr.Validation("Invalid appointment date, expected YYYY-MM-DD")
	}
	return &appointment.Appointment{
		ID:              body.ID,
		PatientID:       body.PatientID,
		DoctorID:        body.DoctorID,
		AppointmentDate: day,
		TimeSlot:        body.TimeSlot,
		Status:          appointment.AppointmentStatus(body.Status),
	}, nil
}

func lookupAppointment(ctx context.Context, lookup AppointmentLookup, id uuid.UUID) (*appointment.Appointment, error) {
	if lookup == nil {
		return nil, apperr.Validation("Appointment data must include patientId, doctorId and appointmentDate")
	}
	appt, err := lookup.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, apperr.Internal("load appointment", err)
	}
	return appt, nil
}
