package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/apiquest-collab/internal/api/response"
	"github.com/rs/zerolog/log"
)

// Pinger is a storage backend that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including every configured backend
func ReadyCheck(backends map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, backend := range backends {
			if err := backend.Ping(r.Context()); err != nil {
				log.Warn().Err(err).Str("backend", name).Msg("readiness check failed")
				response.Error(w, http.StatusServiceUnavailable, name+" not ready")
				return
			}
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}
