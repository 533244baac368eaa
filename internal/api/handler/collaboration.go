package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Rrens/apiquest-collab/internal/api/middleware"
	"github.com/Rrens/apiquest-collab/internal/api/response"
	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/Rrens/apiquest-collab/internal/realtime"
	"github.com/Rrens/apiquest-collab/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CollaborationHandler handles collaborative session endpoints
type CollaborationHandler struct {
	lifecycle *service.Lifecycle
	channel   *realtime.Channel
}

// NewCollaborationHandler creates a new collaboration handler
func NewCollaborationHandler(lifecycle *service.Lifecycle, channel *realtime.Channel) *CollaborationHandler {
	return &CollaborationHandler{lifecycle: lifecycle, channel: channel}
}

// List returns active sessions, optionally for one challenge
func (h *CollaborationHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.lifecycle.ListActiveSessions(r.Context(), domain.SessionFilter{
		ChallengeID: r.URL.Query().Get("challenge_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if sessions == nil {
		sessions = []domain.Session{}
	}
	response.OK(w, sessions)
}

// Create starts a session hosted by the caller
func (h *CollaborationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.NewSession
	if !decodeAndValidate(w, r, &input) {
		return
	}

	session, err := h.lifecycle.CreateSession(r.Context(), user, input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Created(w, session)
}

// Join admits the caller by session id or code
func (h *CollaborationHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.JoinRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	result, err := h.lifecycle.JoinSession(r.Context(), user, input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, result)
}

// Get returns one session
func (h *CollaborationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.lifecycle.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, session)
}

// Participants lists the active members of a session
func (h *CollaborationHandler) Participants(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	participants, err := h.lifecycle.ListParticipants(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if participants == nil {
		participants = []domain.Participant{}
	}
	response.OK(w, participants)
}

// Messages returns chat history, oldest first
func (h *CollaborationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			response.BadRequest(w, "invalid limit")
			return
		}
		limit = v
	}

	messages, err := h.lifecycle.ChatHistory(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	response.OK(w, messages)
}

// Leave removes the caller from a session
func (h *CollaborationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.LeaveSession(r.Context(), user, sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, map[string]any{
		"message":    "left session",
		"session_id": sessionID,
	})
}

// End closes a session on behalf of its host
func (h *CollaborationHandler) End(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.lifecycle.EndSession(r.Context(), user, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, session)
}

// Connect upgrades to the realtime channel of a session
func (h *CollaborationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.channel.Serve(w, r, sessionID, user); err != nil {
		writeError(w, r, err)
	}
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return uuid.Nil, false
	}
	return sessionID, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrSessionFull):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrSessionInactive):
		response.Gone(w, err.Error())
	case errors.Is(err, domain.ErrInvalidCapacity):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrNotParticipant):
		response.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrCodeSpaceExhausted):
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("collaboration request failed")
		response.InternalError(w, "internal server error")
	}
}
