package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/orgsyncd/orgsyncd/internal/api/handler"
	"github.com/orgsyncd/orgsyncd/internal/api/middleware"
	"github.com/orgsyncd/orgsyncd/internal/reconciler"
	"github.com/orgsyncd/orgsyncd/internal/runlog"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Version    string
	DBPinger   handler.DBPinger
	Reconciler *reconciler.Reconciler
	Runs       runlog.Repository
	// AdminKeyHash protects everything except /health. When empty the
	// admin endpoints are not mounted at all.
	AdminKeyHash string
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if deps.AdminKeyHash != "" && deps.Reconciler != nil {
		syncHandler := handler.NewSyncHandler(deps.Reconciler, deps.Runs)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.AdminKeyHash))
			r.Get("/plan", syncHandler.Plan)
			r.Post("/sync", syncHandler.Trigger)
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", syncHandler.ListRuns)
				r.Get("/{id}", syncHandler.GetRun)
			})
		})
	}

	return r
}
