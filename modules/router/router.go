package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

const (
	connectedNotice  = "Conectado al servidor de chat"
	leftRoomNotice   = "Has salido de la sala exitosamente"
	anonymousName    = "Anónimo"
	joinedFormat     = "%s se ha unido a la sala"
	confirmFormat    = "Conectado como %s en la sala \"%s\""
	leftFormat       = "%s ha salido de la sala"
	disconnectFormat = "%s se ha desconectado"
)

// Presence is the subset of the presence registry the router needs.
type Presence interface {
	Register(conn domain.ConnectionID, displayName, room string) (domain.Session, error)
	Unregister(conn domain.ConnectionID) (domain.Session, bool)
	Session(conn domain.ConnectionID) (domain.Session, bool)
	SessionsOf(room string) []domain.Session
	BindPrivate(userID int64, conn domain.ConnectionID)
	LookupPrivate(userID int64) (domain.ConnectionID, bool)
	UnbindConnection(conn domain.ConnectionID) []int64
}

// MessageWriter persists private messages.
type MessageWriter interface {
	InsertPrivateMessage(ctx context.Context, senderID, recipientID int64, body string) (*domain.PrivateMessage, error)
}

// Options tunes router behavior.
type Options struct {
	// TrustClientRoom lets send_message fall back to a client-supplied
	// room when the connection has no session. Off by default.
	TrustClientRoom bool
}

// Router applies commands to presence state and returns the deliveries they
// produce. It never writes to a connection itself.
type Router struct {
	presence Presence
	messages MessageWriter
	opts     Options
	now      func() time.Time
}

// New creates a Router.
func New(presence Presence, messages MessageWriter, opts Options) *Router {
	return &Router{
		presence: presence,
		messages: messages,
		opts:     opts,
		now:      time.Now,
	}
}

// Handle applies cmd for conn. Failures in the error taxonomy are returned
// together with the error event already addressed to conn.
func (r *Router) Handle(ctx context.Context, conn domain.ConnectionID, cmd Command) ([]Delivery, error) {
	switch c := cmd.(type) {
	case Connect:
		return []Delivery{{To: conn, Event: SystemEvent(connectedNotice)}}, nil
	case JoinChat:
		return r.join(conn, c)
	case SendMessage:
		return r.sendMessage(conn, c)
	case Typing:
		return r.typing(conn, c), nil
	case LeaveRoom:
		return r.leave(conn)
	case Disconnect:
		return r.disconnect(conn), nil
	case JoinPrivateChat:
		return r.bindPrivate(conn, c)
	case SendPrivateMessage:
		return r.sendPrivate(ctx, conn, c)
	case TypingPrivate:
		return r.typingPrivate(c.UserID, c.RecipientID, EventUserTypingPrivate), nil
	case StopTypingPrivate:
		return r.typingPrivate(c.UserID, c.RecipientID, EventUserStopTypingPrivate), nil
	default:
		return fail(conn, fmt.Errorf("%w: %T", ErrUnknownEvent, cmd))
	}
}

func (r *Router) join(conn domain.ConnectionID, c JoinChat) ([]Delivery, error) {
	name := strings.TrimSpace(c.Username)
	room := strings.TrimSpace(c.Room)
	if name == "" || room == "" {
		return fail(conn, ErrInvalidJoinRequest)
	}

	var out []Delivery
	if prev, ok := r.presence.Unregister(conn); ok {
		out = r.departure(prev, fmt.Sprintf(leftFormat, prev.DisplayName))
	}

	if _, err := r.presence.Register(conn, name, room); err != nil {
		return append(out, Delivery{To: conn, Event: ErrorEvent(err)}), err
	}

	members := r.presence.SessionsOf(room)
	joined := SystemEvent(fmt.Sprintf(joinedFormat, name))
	for _, m := range members {
		out = append(out, Delivery{To: m.ConnectionID, Event: joined})
	}
	out = append(out, Delivery{To: conn, Event: SystemEvent(fmt.Sprintf(confirmFormat, name, room))})
	return append(out, roster(members)...), nil
}

func (r *Router) sendMessage(conn domain.ConnectionID, c SendMessage) ([]Delivery, error) {
	body := strings.TrimSpace(c.Message)
	if body == "" {
		return fail(conn, ErrEmptyMessage)
	}

	var name, room string
	if s, ok := r.presence.Session(conn); ok {
		name, room = s.DisplayName, s.Room
	} else if r.opts.TrustClientRoom {
		room = strings.TrimSpace(c.Room)
		name = strings.TrimSpace(c.Username)
		if name == "" {
			name = anonymousName
		}
	}
	if room == "" {
		return fail(conn, ErrNoActiveRoom)
	}

	msg := domain.RoomMessage{
		SenderName:   name,
		Body:         body,
		SentAt:       r.now().UTC(),
		ConnectionID: conn,
	}
	ev := Event{Name: EventNewMessage, Payload: NewMessagePayload{
		Username:  msg.SenderName,
		Message:   msg.Body,
		Timestamp: msg.SentAt,
		SenderID:  string(msg.ConnectionID),
	}}

	members := r.presence.SessionsOf(room)
	out := make([]Delivery, 0, len(members))
	for _, m := range members {
		out = append(out, Delivery{To: m.ConnectionID, Event: ev})
	}
	return out, nil
}

func (r *Router) typing(conn domain.ConnectionID, c Typing) []Delivery {
	s, ok := r.presence.Session(conn)
	if !ok {
		return nil
	}

	ev := Event{Name: EventUserTyping, Payload: UserTypingPayload{
		Username: s.DisplayName,
		IsTyping: c.IsTyping,
	}}
	var out []Delivery
	for _, m := range r.presence.SessionsOf(s.Room) {
		if m.ConnectionID != conn {
			out = append(out, Delivery{To: m.ConnectionID, Event: ev})
		}
	}
	return out
}

func (r *Router) leave(conn domain.ConnectionID) ([]Delivery, error) {
	prev, ok := r.presence.Unregister(conn)
	if !ok {
		return fail(conn, ErrNotInRoom)
	}

	out := r.departure(prev, fmt.Sprintf(leftFormat, prev.DisplayName))
	return append(out, Delivery{
		To:    conn,
		Event: Event{Name: EventLeftRoom, Payload: MessagePayload{Message: leftRoomNotice}},
	}), nil
}

func (r *Router) disconnect(conn domain.ConnectionID) []Delivery {
	var out []Delivery
	if prev, ok := r.presence.Unregister(conn); ok {
		out = r.departure(prev, fmt.Sprintf(disconnectFormat, prev.DisplayName))
	}
	r.presence.UnbindConnection(conn)
	return out
}

// departure notifies the members left in prev.Room and sends them the
// refreshed roster.
func (r *Router) departure(prev domain.Session, notice string) []Delivery {
	remaining := r.presence.SessionsOf(prev.Room)
	if len(remaining) == 0 {
		return nil
	}

	ev := SystemEvent(notice)
	out := make([]Delivery, 0, 2*len(remaining))
	for _, m := range remaining {
		out = append(out, Delivery{To: m.ConnectionID, Event: ev})
	}
	return append(out, roster(remaining)...)
}

func roster(members []domain.Session) []Delivery {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.DisplayName
	}
	ev := Event{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: names}}

	out := make([]Delivery, len(members))
	for i, m := range members {
		out[i] = Delivery{To: m.ConnectionID, Event: ev}
	}
	return out
}

func fail(conn domain.ConnectionID, err error) ([]Delivery, error) {
	return []Delivery{{To: conn, Event: ErrorEvent(err)}}, err
}
