package response

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Response is the envelope of every REST reply
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("failed to write response")
	}
}

// JSON sends data; success follows the status class
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// Error sends an error response. message is a string or a field error map.
func Error(w http.ResponseWriter, status int, message any) {
	write(w, status, Response{Error: message})
}

func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }

func OK(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, data) }

func BadRequest(w http.ResponseWriter, message any) { Error(w, http.StatusBadRequest, message) }

func Unauthorized(w http.ResponseWriter, message any) { Error(w, http.StatusUnauthorized, message) }

func Forbidden(w http.ResponseWriter, message any) { Error(w, http.StatusForbidden, message) }

func NotFound(w http.ResponseWriter, message any) { Error(w, http.StatusNotFound, message) }

// Conflict is returned when a session has no room left
func Conflict(w http.ResponseWriter, message any) { Error(w, http.StatusConflict, message) }

// Gone is returned for sessions that already ended
func Gone(w http.ResponseWriter, message any) { Error(w, http.StatusGone, message) }

func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}
