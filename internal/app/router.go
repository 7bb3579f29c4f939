package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusgate/doorlock/internal/doorlock"
	"github.com/campusgate/doorlock/internal/flags"
	"github.com/campusgate/doorlock/internal/gateway"
	"github.com/campusgate/doorlock/internal/observability"
	"github.com/campusgate/doorlock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Verifier       *PrincipalVerifier
	Metrics        *observability.Metrics
	CardHandler    *doorlock.Handler
	FlagHandler    *flags.Handler
	DeviceHandler  *gateway.AdminHandler
	ChannelGateway *gateway.Gateway
	JobHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router with doorlock defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	mwConfig := MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Verifier: params.Verifier,
		Metrics:  params.Metrics,
	}
	for _, mw := range BaseStack(mwConfig) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.ChannelGateway != nil {
		r.Route("/channel", params.ChannelGateway.MountRoutes)
	}

	r.Route("/admin", func(r chi.Router) {
		for _, mw := range AdminStack(mwConfig) {
			r.Use(mw)
		}
		if params.CardHandler != nil {
			r.Route("/cards", params.CardHandler.MountRoutes)
		}
		if params.FlagHandler != nil {
			r.Route("/flags", params.FlagHandler.MountRoutes)
		}
		if params.DeviceHandler != nil {
			r.Route("/devices", params.DeviceHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
