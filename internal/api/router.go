package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service      *appointment.Service
	Logger       *zap.Logger
	JWTSecret    []byte
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger.Named("http")))
	r.Use(RecoverMiddleware(logger))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service, log: logger}

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.JWTSecret))

		r.Post("/availability", h.createAvailability)
		r.Delete("/availability/{id}", h.deleteAvailability)

		r.Get("/doctors/{doctorID}/availability", h.listAvailability)
		r.Get("/doctors/{doctorID}/slots", h.listSlots)

		r.Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Post("/appointments/{id}/complete", h.completeAppointment)
	})

	return r
}
