package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/ratelimit"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// NewRouter wires the middleware stack and the auth routes. Rate limiting is
// applied per route with the endpoint's own limits; the health check stays
// exempt so probes never get throttled.
func NewRouter(authHandler *AuthHandler, limiter *ratelimit.Limiter, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		util.Info("Health check requested")
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "vendor-auth",
		})
	})

	router.Route("/api/v1/auth", func(r chi.Router) {
		r.With(RateLimit(limiter, ratelimit.EndpointLogin)).
			Post("/login", authHandler.Login)
		r.With(RateLimit(limiter, ratelimit.EndpointVerifyOTP)).
			Post("/verify-otp", authHandler.VerifyOTP)
		r.With(RateLimit(limiter, ratelimit.EndpointRefresh)).
			Post("/refresh", authHandler.Refresh)
		r.With(RateLimit(limiter, "validate")).
			Get("/validate", authHandler.Validate)
		r.With(RateLimit(limiter, "logout")).
			Post("/logout", authHandler.Logout)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}
