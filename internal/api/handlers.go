package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

type AppointmentService interface {
	Request(ctx context.Context, p auth.Principal, in appointment.RequestInput) (*appointment.Appointment, error)
	Schedule(ctx context.Context, p auth.Principal, id uuid.UUID, in appointment.ScheduleInput) (*appointment.Appointment, error)
	Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, p auth.Principal, id uuid.UUID, notes string) (*appointment.Appointment, error)
	Confirm(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	ListForPatient(ctx context.Context, p auth.Principal) ([]appointment.Appointment, error)
	ListForDoctor(ctx context.Context, p auth.Principal) ([]appointment.Appointment, error)
	List(ctx context.Context, p auth.Principal, filter appointment.Filter) ([]appointment.Appointment, error)
}

var errInvalidID = apperr.Validation("Invalid appointment ID")

// fail writes err and logs it when the caller gets a server-side status.
func fail(logger *logging.Logger, w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if apperr.HTTPStatus(kind) >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"kind", string(kind),
			"error", err,
		)
	}
	writeError(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errInvalidID
	}
	return id, nil
}

func requestAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in := appointment.RequestInput{
			DoctorID: req.DoctorID,
			TimeSlot: req.TimeSlot,
			Reason:   req.Reason,
			Notes:    req.Notes,
		}
		if req.AppointmentDate != "" {
			day, err := appointment.ParseDate(req.AppointmentDate)
			if err != nil {
				writeError(w, apperr.Validation("Invalid appointment date, expected YYYY-MM-DD"))
				return
			}
			in.Date = day
		}

		appt, err := svc.Request(r.Context(), principalFrom(r.Context()), in)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusCreated, "Appointment request created", toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListForPatient(r.Context(), principalFrom(r.Context()))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponses(list))
	}
}

func listDoctorAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListForDoctor(r.Context(), principalFrom(r.Context()))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponses(list))
	}
}

// listAppointmentsHandler is the admin view; status accepts a comma separated list.
func listAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := appointment.Filter{
			DoctorID:  q.Get("doctorId"),
			PatientID: q.Get("patientId"),
		}
		if raw := q.Get("status"); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					filter.Statuses = append(filter.Statuses, appointment.AppointmentStatus(s))
				}
			}
		}
		if raw := q.Get("date"); raw != "" {
			day, err := appointment.ParseDate(raw)
			if err != nil {
				writeError(w, apperr.Validation("Invalid date filter, expected YYYY-MM-DD"))
				return
			}
			filter.Date = &day
		}

		list, err := svc.List(r.Context(), principalFrom(r.Context()), filter)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponses(list))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		appt, err := svc.Get(r.Context(), principalFrom(r.Context()), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponse(appt))
	}
}

func scheduleAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req ScheduleAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in := appointment.ScheduleInput{
			TimeSlot: req.TimeSlot,
			Status:   appointment.AppointmentStatus(req.Status),
			Notes:    req.Notes,
		}
		if req.AppointmentDate != "" {
			day, err := appointment.ParseDate(req.AppointmentDate)
			if err != nil {
				writeError(w, apperr.Validation("Invalid appointment date, expected YYYY-MM-DD"))
				return
			}
			in.Date = &day
		}

		appt, err := svc.Schedule(r.Context(), principalFrom(r.Context()), id, in)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Appointment scheduled", toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return transitionHandler(logger, "Appointment cancelled", svc.Cancel)
}

func confirmAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return transitionHandler(logger, "Appointment confirmed", svc.Confirm)
}

func completeAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req CompleteAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		appt, err := svc.Complete(r.Context(), principalFrom(r.Context()), id, req.Notes)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Appointment completed", toAppointmentResponse(appt))
	}
}

func transitionHandler(logger *logging.Logger, message string, op func(context.Context, auth.Principal, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		appt, err := op(r.Context(), principalFrom(r.Context()), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, message, toAppointmentResponse(appt))
	}
}
