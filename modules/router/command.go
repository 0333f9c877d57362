package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Inbound event names.
const (
	EventJoinChat          = "join_chat"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventLeaveRoom         = "leave_room"
	EventJoinPrivateChat   = "join_private_chat"
	EventSendPrivate       = "send_private_message"
	EventTypingPrivate     = "typing_private"
	EventStopTypingPrivate = "stop_typing_private"

	// Lifecycle events raised by the connection itself, never decoded
	// from a client frame.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Command is one unit of work for the router. The set of implementations is
// closed; Router.Handle switches over all of them.
type Command interface {
	EventName() string
}

// Connect is raised once when a connection is accepted.
type Connect struct{}

// Disconnect is raised once when a connection goes away.
type Disconnect struct{}

// JoinChat asks to join a room under a display name.
type JoinChat struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// SendMessage posts a message to the sender's room. Room and Username are
// only read when client-supplied rooms are trusted.
type SendMessage struct {
	Message  string `json:"message"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
}

// Typing reports the sender's typing state to the room.
type Typing struct {
	IsTyping bool `json:"is_typing"`
}

// LeaveRoom leaves the current room.
type LeaveRoom struct{}

// JoinPrivateChat binds a user id to the sending connection.
type JoinPrivateChat struct {
	UserID UserID `json:"userId"`
}

// SendPrivateMessage stores a private message and pushes it to the
// recipient when online.
type SendPrivateMessage struct {
	SenderID    UserID `json:"remitenteId"`
	RecipientID UserID `json:"destinatarioId"`
	Body        string `json:"mensaje"`
}

// TypingPrivate notifies a private chat partner that the user is typing.
type TypingPrivate struct {
	UserID      UserID `json:"userId"`
	RecipientID UserID `json:"destinatarioId"`
}

// StopTypingPrivate notifies a private chat partner that the user stopped.
type StopTypingPrivate struct {
	UserID      UserID `json:"userId"`
	RecipientID UserID `json:"destinatarioId"`
}

func (Connect) EventName() string            { return EventConnect }
func (Disconnect) EventName() string         { return EventDisconnect }
func (JoinChat) EventName() string           { return EventJoinChat }
func (SendMessage) EventName() string        { return EventSendMessage }
func (Typing) EventName() string             { return EventTyping }
func (LeaveRoom) EventName() string          { return EventLeaveRoom }
func (JoinPrivateChat) EventName() string    { return EventJoinPrivateChat }
func (SendPrivateMessage) EventName() string { return EventSendPrivate }
func (TypingPrivate) EventName() string      { return EventTypingPrivate }
func (StopTypingPrivate) EventName() string  { return EventStopTypingPrivate }

// UserID is a numeric user id that also accepts a quoted number, since web
// clients often send ids read from the DOM as strings.
type UserID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", s, err)
	}
	*id = UserID(n)
	return nil
}

// Frame is the JSON envelope used in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a client frame into a Command.
func Decode(raw []byte) (Command, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var cmd Command
	switch f.Event {
	case EventJoinChat:
		var c JoinChat
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventSendMessage:
		var c SendMessage
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventTyping:
		var c Typing
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventLeaveRoom:
		cmd = LeaveRoom{}
	case EventJoinPrivateChat:
		var c JoinPrivateChat
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventSendPrivate:
		var c SendPrivateMessage
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventTypingPrivate:
		var c TypingPrivate
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case EventStopTypingPrivate:
		var c StopTypingPrivate
		if err := decodeData(f.Data, &c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	return cmd, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
