package rest

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/italolelis/biofetch/internal/telemetry"
)

// NewRouter assembles the public HTTP surface: the job API under /api plus
// the operational endpoints. Browser origins listed in corsOrigins may call
// the API; "*" allows any origin and no origins disables CORS.
func NewRouter(api *APIHandler, db Pinger, tel *telemetry.Telemetry, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	if len(corsOrigins) > 0 {
		r.Use(corsHandler(corsOrigins))
	}

	r.Mount("/api", api.Routes())
	r.Get("/healthz", HealthHandler(db))
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{telemetry.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}

	// Credentialed responses cannot carry a literal "*", so echo the origin.
	if slices.Contains(origins, "*") {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
