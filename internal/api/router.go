package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/appointment-scheduling-core/internal/auth"
	"github.com/hackgods/appointment-scheduling-core/pkg/logging"
)

type RouterConfig struct {
	Appointments  AppointmentService
	Notifications NotificationService
	Lookup        AppointmentLookup
	Authenticator auth.Authenticator
	WebhookSecret string
	Postgres      Pinger
	Redis         Pinger
	Metrics       http.Handler
	Logger        *logging.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	authn := AuthMiddleware(cfg.Authenticator)

	r.Route("/appointments", func(r chi.Router) {
		r.Use(authn)
		r.Post("/request", requestAppointmentHandler(cfg.Appointments, logger))
		r.Get("/patient", listPatientAppointmentsHandler(cfg.Appointments, logger))
		r.Get("/doctor", listDoctorAppointmentsHandler(cfg.Appointments, logger))
		r.Get("/", listAppointmentsHandler(cfg.Appointments, logger))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments, logger))
		r.Put("/{id}/schedule", scheduleAppointmentHandler(cfg.Appointments, logger))
		r.Put("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, logger))
		r.Put("/{id}/complete", completeAppointmentHandler(cfg.Appointments, logger))
		r.Put("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, logger))
	})

	r.Route("/notifications", func(r chi.Router) {
		// Service to service; authenticated by the shared webhook secret.
		r.Post("/webhook", webhookHandler(cfg.Notifications, cfg.Lookup, cfg.WebhookSecret, logger))

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/", listNotificationsHandler(cfg.Notifications, logger))
			r.Put("/read-all", markAllNotificationsReadHandler(cfg.Notifications, logger))
			r.Get("/preferences", getPreferencesHandler(cfg.Notifications, logger))
			r.Put("/preferences", updatePreferencesHandler(cfg.Notifications, logger))
			r.Put("/{id}/read", markNotificationReadHandler(cfg.Notifications, logger))
		})
	})

	return r
}
