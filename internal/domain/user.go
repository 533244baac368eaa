package domain

// User identifies the platform account behind a request; accounts live in the main platform
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// JoinRequest selects a session either by id or by its shareable code
type JoinRequest struct {
	SessionID   string `json:"session_id" validate:"required_without=SessionCode,omitempty,uuid"`
	SessionCode string `json:"session_code" validate:"required_without=SessionID,omitempty,len=6,alphanum"`
}

// JoinResult is everything a client needs to render a session after joining
type JoinResult struct {
	Session      *Session      `json:"session"`
	Participant  *Participant  `json:"participant"`
	CodeBuffer   *CodeBuffer   `json:"code_buffer"`
	Participants []Participant `json:"participants"`
	Messages     []ChatMessage `json:"messages"`
}
