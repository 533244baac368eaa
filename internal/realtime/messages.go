package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
)

// MessageType names a websocket message in either direction
type MessageType string

// Client -> server
const (
	MsgCodeUpdate   MessageType = "code_update"
	MsgChatMessage  MessageType = "chat_message"
	MsgCodeShare    MessageType = "code_share"
	MsgCursorUpdate MessageType = "cursor_update"
)

// Server -> client
const (
	MsgParticipantJoined MessageType = "participant_joined"
	MsgParticipantLeft   MessageType = "participant_left"
	MsgSessionState      MessageType = "session_state"
	MsgSessionEnded      MessageType = "session_ended"
	MsgError             MessageType = "error"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownType      = errors.New("unknown message type")
)

// Inbound is one decoded client message; the concrete type is the tag
type Inbound interface {
	inbound()
}

type CodeUpdate struct {
	Code string `json:"code"`
}

type ChatMessage struct {
	Message string `json:"message"`
}

type CodeShare struct {
	Code string `json:"code"`
}

type CursorUpdate struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (CodeUpdate) inbound()   {}
func (ChatMessage) inbound()  {}
func (CodeShare) inbound()    {}
func (CursorUpdate) inbound() {}

// DecodeInbound parses a client frame into its tagged variant
func DecodeInbound(data []byte) (Inbound, MessageType, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg Inbound
	var err error
	switch envelope.Type {
	case MsgCodeUpdate:
		var m CodeUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgChatMessage:
		var m ChatMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgCodeShare:
		var m CodeShare
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgCursorUpdate:
		var m CursorUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, envelope.Type, fmt.Errorf("%w %q", ErrUnknownType, envelope.Type)
	}
	if err != nil {
		return nil, envelope.Type, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, envelope.Type, nil
}

type CodeUpdateEvent struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
}

type ChatMessageEvent struct {
	Type      MessageType        `json:"type"`
	ID        string             `json:"id"`
	Seq       int64              `json:"seq"`
	UserID    string             `json:"userId"`
	Username  string             `json:"username"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      domain.MessageKind `json:"kind"`
}

type PresenceEvent struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
}

type CursorEvent struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Line     int         `json:"line"`
	Column   int         `json:"column"`
}

type SessionStateEvent struct {
	Type         MessageType          `json:"type"`
	Session      *domain.Session      `json:"session"`
	Code         string               `json:"code"`
	Language     string               `json:"language"`
	Participants []domain.Participant `json:"participants"`
	Messages     []ChatMessageEvent   `json:"messages"`
}

type SessionEndedEvent struct {
	Type   MessageType      `json:"type"`
	Reason domain.EndReason `json:"reason"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func newChatEvent(m domain.ChatMessage) ChatMessageEvent {
	return ChatMessageEvent{
		Type:      MsgChatMessage,
		ID:        m.ID.String(),
		Seq:       m.Seq,
		UserID:    m.UserID,
		Username:  m.Username,
		Message:   m.Message,
		Timestamp: m.CreatedAt,
		Kind:      m.Kind,
	}
}

func newSessionState(result *domain.JoinResult) SessionStateEvent {
	messages := make([]ChatMessageEvent, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, newChatEvent(m))
	}

	event := SessionStateEvent{
		Type:         MsgSessionState,
		Session:      result.Session,
		Participants: result.Participants,
		Messages:     messages,
	}
	if result.CodeBuffer != nil {
		event.Code = result.CodeBuffer.Content
		event.Language = result.CodeBuffer.Language
	}
	return event
}

func newError(message string) ErrorEvent {
	return ErrorEvent{Type: MsgError, Message: message}
}

func encode(event any) ([]byte, error) {
	return json.Marshal(event)
}
