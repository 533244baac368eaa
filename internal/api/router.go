package api

import (
	"net/http"

	"github.com/Rrens/apiquest-collab/internal/api/handler"
	customMiddleware "github.com/Rrens/apiquest-collab/internal/api/middleware"
	"github.com/Rrens/apiquest-collab/internal/config"
	"github.com/Rrens/apiquest-collab/internal/metrics"
	"github.com/Rrens/apiquest-collab/internal/realtime"
	"github.com/Rrens/apiquest-collab/internal/security"
	"github.com/Rrens/apiquest-collab/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the wired components the router exposes
type Dependencies struct {
	Lifecycle *service.Lifecycle
	Channel   *realtime.Channel
	// RateLimiter is optional; nil disables HTTP rate limiting
	RateLimiter customMiddleware.Limiter
	Backends    map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics.Enabled {
		r.Use(metrics.Middleware)
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Collaboration.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
	}

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)

	collabHandler := handler.NewCollaborationHandler(deps.Lifecycle, deps.Channel)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Backends))

		r.Route("/collaboration/sessions", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			requests := func(r chi.Router) {
				r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
				if deps.RateLimiter != nil {
					r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
				}
			}

			r.Group(func(r chi.Router) {
				requests(r)
				r.Get("/", collabHandler.List)
				r.Post("/", collabHandler.Create)
				r.Post("/join", collabHandler.Join)
			})

			r.Route("/{sessionID}", func(r chi.Router) {
				// The websocket outlives any request timeout and is limited per message
				r.Get("/ws", collabHandler.Connect)

				r.Group(func(r chi.Router) {
					requests(r)
					r.Get("/", collabHandler.Get)
					r.Get("/participants", collabHandler.Participants)
					r.Get("/messages", collabHandler.Messages)
					r.Post("/leave", collabHandler.Leave)
					r.Post("/end", collabHandler.End)
				})
			})
		})
	})

	return r
}
