package service

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/open-feature/flagwatch/pkg/telemetry"
)

// NewRouter mounts si and, when metrics is set, the metrics endpoint.
func NewRouter(si ServerInterface, metrics *telemetry.Metrics, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: paramErrorHandler,
	}

	r.Get("/health", wrapper.Health)
	r.Post("/reauthenticate", wrapper.Reauthenticate)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Get("/{flagId}/{targetId}", wrapper.GetFlag)
	r.Post("/{flagId}/{targetId}", wrapper.PostFlag)
	r.Get("/{flagId}/{targetId}/watch", wrapper.WatchFlag)

	return r
}
