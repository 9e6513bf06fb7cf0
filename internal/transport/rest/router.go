package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/kalendae/meeting-insights/internal/access"
	"github.com/kalendae/meeting-insights/internal/insight"
	"github.com/kalendae/meeting-insights/internal/transport/middleware"
	"github.com/kalendae/meeting-insights/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, backendPinger Pinger, identitySecret string, accessHandler *access.Handler, insightHandler *insight.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, backendPinger)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Everything below requires a verified identity token
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Identity(identitySecret, logger))

			if accessHandler != nil {
				pr.Route("/access", func(ar chi.Router) {
					ar.Get("/me", accessHandler.Me)
					ar.Post("/refresh", accessHandler.Refresh)
					ar.Post("/register", accessHandler.Register)
				})
			}

			if insightHandler != nil {
				pr.Post("/insights", insightHandler.Generate)
			}
		})
	})
}
