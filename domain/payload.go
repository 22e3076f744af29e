package domain

import (
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"
)

const (
	TypeConnectionAck = "connection_ack"
	TypeError         = "error"
)

// Handshake is the first frame a client sends after the upgrade.
type Handshake struct {
	Token string `json:"token"`
}

// Inbound is a steady-state client frame.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Sender identifies who caused a broadcast. The zero User with System set
// encodes as the bare string "system".
type Sender struct {
	ID       string
	Username string
	Email    string
	System   bool
}

// SystemSender is used for mutations that no live connection performed.
var SystemSender = &Sender{System: true}

// SenderFromUser builds the sender identity of a user profile.
func SenderFromUser(u User) *Sender {
	return &Sender{ID: u.ID, Username: u.Username, Email: u.Email}
}

type senderObject struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s Sender) MarshalJSON() ([]byte, error) {
	if s.System {
		return []byte(`"system"`), nil
	}
	return sonic.Marshal(senderObject{ID: s.ID, Username: s.Username, Email: s.Email})
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	if string(data) == `"system"` {
		*s = Sender{System: true}
		return nil
	}
	var obj senderObject
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = Sender{ID: obj.ID, Username: obj.Username, Email: obj.Email}
	return nil
}

// Outbound is every server frame except the acknowledgement and errors.
type Outbound struct {
	Type   string  `json:"type"`
	Data   any     `json:"data"`
	Sender *Sender `json:"sender,omitempty"`
}

// Ack is sent once after a successful handshake.
type Ack struct {
	Type  string        `json:"type"`
	Role  Role          `json:"role"`
	Board BoardSnapshot `json:"board"`
}

// ErrorPayload is sent only to the connection that caused the failure.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorPayload(message string) ErrorPayload {
	return ErrorPayload{Type: TypeError, Message: message}
}

// BoardEvent is raised by REST-side endpoints that invalidate live room state.
type BoardEvent struct {
	BoardID string          `json:"boardId"`
	Type    string          `json:"type"`
	UserID  string          `json:"userId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	EventBoardDeleted      = "board.deleted"
	EventMemberRemoved     = "member.removed"
	EventMembershipChanged = "membership.changed"
)

var errEmptyFrame = errors.New("empty frame")

// Encode marshals a frame for the wire.
func Encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// DecodeHandshake parses the first client frame.
func DecodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	if len(data) == 0 {
		return h, errEmptyFrame
	}
	if err := sonic.Unmarshal(data, &h); err != nil {
		return h, err
	}
	return h, nil
}

// DecodeInbound parses a steady-state client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if len(data) == 0 {
		return in, errEmptyFrame
	}
	if err := sonic.Unmarshal(data, &in); err != nil {
		return in, err
	}
	return in, nil
}

// DecodeBoardEvent parses a REST-side board event.
func DecodeBoardEvent(data []byte) (BoardEvent, error) {
	var ev BoardEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.BoardID == "" || ev.Type == "" {
		return ev, Validation("board event requires boardId and type")
	}
	return ev, nil
}
