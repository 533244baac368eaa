package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session is full")
	ErrSessionInactive = errors.New("session is no longer active")
	ErrInvalidCapacity = errors.New("invalid session capacity")
	ErrNotParticipant  = errors.New("user is not an active participant of the session")
	ErrNotHost         = errors.New("only the session host can do this")

	// ErrConnectionLost never reaches callers; the channel converts it into a leave
	ErrConnectionLost = errors.New("connection lost")
)
