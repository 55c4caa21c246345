package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vialibre/vialibre/internal/accounts"
	"github.com/vialibre/vialibre/internal/enforcement"
	"github.com/vialibre/vialibre/internal/notifications"
	"github.com/vialibre/vialibre/internal/observability"
	"github.com/vialibre/vialibre/internal/parking"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
	"github.com/vialibre/vialibre/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AccountsHandler      *accounts.Handler
	ParkingHandler       *parking.Handler
	EnforcementHandler   *enforcement.Handler
	RegistryHandler      *registry.Handler
	NotificationsHandler *notifications.Handler
	JobHandler           *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AccountsHandler.MountRoutes)
	r.Route("/parking/sessions", params.ParkingHandler.MountRoutes)
	r.Route("/enforcement", params.EnforcementHandler.MountRoutes)
	r.Route("/registry", params.RegistryHandler.MountRoutes)
	r.Route("/notifications", params.NotificationsHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
