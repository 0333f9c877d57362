package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/presence"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// fakeStore is an in-memory MessageWriter.
type fakeStore struct {
	mu       sync.Mutex
	messages []*domain.PrivateMessage
	err      error
}

func (s *fakeStore) InsertPrivateMessage(_ context.Context, senderID, recipientID int64, body string) (*domain.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	msg := &domain.PrivateMessage{
		ID:          int64(len(s.messages) + 1),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		SentAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func newTestRouter(opts Options) (*Router, *presence.Registry, *fakeStore) {
	reg := presence.NewRegistry()
	store := &fakeStore{}
	return New(reg, store, opts), reg, store
}

// eventsFor returns the events addressed to conn, in order.
func eventsFor(out []Delivery, conn domain.ConnectionID) []Event {
	var evs []Event
	for _, d := range out {
		if d.To == conn {
			evs = append(evs, d.Event)
		}
	}
	return evs
}

func names(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

func mustHandle(t *testing.T, r *Router, conn domain.ConnectionID, cmd Command) []Delivery {
	t.Helper()
	out, err := r.Handle(context.Background(), conn, cmd)
	require.NoError(t, err)
	return out
}

func TestRouter_Connect(t *testing.T) {
	r, _, _ := newTestRouter(Options{})

	out := mustHandle(t, r, "c1", Connect{})

	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnectionID("c1"), out[0].To)
	assert.Equal(t, SystemEvent("Conectado al servidor de chat"), out[0].Event)
}

func TestRouter_JoinScenario(t *testing.T) {
	r, _, _ := newTestRouter(Options{})

	out := mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})
	assert.Equal(t, []Event{
		SystemEvent("Ana se ha unido a la sala"),
		SystemEvent(`Conectado como Ana en la sala "general"`),
		{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Ana"}}},
	}, eventsFor(out, "ana"))

	out = mustHandle(t, r, "beto", JoinChat{Username: "Beto", Room: "general"})
	wantUsers := Event{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Ana", "Beto"}}}
	assert.Equal(t, []Event{SystemEvent("Beto se ha unido a la sala"), wantUsers}, eventsFor(out, "ana"))
	assert.Equal(t, []Event{
		SystemEvent("Beto se ha unido a la sala"),
		SystemEvent(`Conectado como Beto en la sala "general"`),
		wantUsers,
	}, eventsFor(out, "beto"))

	out = mustHandle(t, r, "ana", SendMessage{Message: "  hola  "})
	require.Len(t, out, 2)
	for _, conn := range []domain.ConnectionID{"ana", "beto"} {
		evs := eventsFor(out, conn)
		require.Len(t, evs, 1)
		assert.Equal(t, EventNewMessage, evs[0].Name)
		p := evs[0].Payload.(NewMessagePayload)
		assert.Equal(t, "Ana", p.Username)
		assert.Equal(t, "hola", p.Message)
		assert.Equal(t, "ana", p.SenderID)
		assert.False(t, p.Timestamp.IsZero())
	}

	out = mustHandle(t, r, "beto", Disconnect{})
	assert.Equal(t, []Event{
		SystemEvent("Beto se ha desconectado"),
		{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Ana"}}},
	}, eventsFor(out, "ana"))
	assert.Empty(t, eventsFor(out, "beto"))
}

func TestRouter_JoinValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  JoinChat
	}{
		{"missing username", JoinChat{Room: "general"}},
		{"missing room", JoinChat{Username: "Ana"}},
		{"blank username", JoinChat{Username: "   ", Room: "general"}},
		{"both missing", JoinChat{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, reg, _ := newTestRouter(Options{})
			out, err := r.Handle(context.Background(), "c1", tt.cmd)

			assert.ErrorIs(t, err, ErrInvalidJoinRequest)
			require.Len(t, out, 1)
			assert.Equal(t, Event{Name: EventError, Payload: MessagePayload{Message: "Faltan datos de usuario o sala"}}, out[0].Event)
			assert.Equal(t, 0, reg.SessionCount())
		})
	}
}

func TestRouter_RejoinLeavesPreviousRoom(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})
	mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})
	mustHandle(t, r, "beto", JoinChat{Username: "Beto", Room: "general"})

	out := mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "random"})

	assert.Equal(t, []Event{
		SystemEvent("Ana ha salido de la sala"),
		{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Beto"}}},
	}, eventsFor(out, "beto"))
	assert.Equal(t, []string{EventSystem, EventSystem, EventRoomUsers}, names(eventsFor(out, "ana")))

	assert.Equal(t, []string{"Beto"}, reg.MembersOf("general"))
	assert.Equal(t, []string{"Ana"}, reg.MembersOf("random"))
	s, ok := reg.Session("ana")
	require.True(t, ok)
	assert.Equal(t, "random", s.Room)
}

func TestRouter_SendMessageErrors(t *testing.T) {
	r, _, _ := newTestRouter(Options{})

	_, err := r.Handle(context.Background(), "c1", SendMessage{Message: "hola"})
	assert.ErrorIs(t, err, ErrNoActiveRoom)

	// client-supplied room is not trusted by default
	out, err := r.Handle(context.Background(), "c1", SendMessage{Message: "hola", Room: "general"})
	assert.ErrorIs(t, err, ErrNoActiveRoom)
	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnectionID("c1"), out[0].To)

	mustHandle(t, r, "c1", JoinChat{Username: "Ana", Room: "general"})
	out, err = r.Handle(context.Background(), "c1", SendMessage{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, []Event{ErrorEvent(ErrEmptyMessage)}, eventsFor(out, "c1"))
}

func TestRouter_SendMessageTrustedFallback(t *testing.T) {
	r, _, _ := newTestRouter(Options{TrustClientRoom: true})
	mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})

	out := mustHandle(t, r, "ghost", SendMessage{Message: "hola", Room: "general"})

	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnectionID("ana"), out[0].To)
	p := out[0].Event.Payload.(NewMessagePayload)
	assert.Equal(t, "Anónimo", p.Username)
	assert.Equal(t, "ghost", p.SenderID)

	_, err := r.Handle(context.Background(), "ghost", SendMessage{Message: "hola"})
	assert.ErrorIs(t, err, ErrNoActiveRoom)
}

func TestRouter_Typing(t *testing.T) {
	r, _, _ := newTestRouter(Options{})

	// no session: silently ignored
	assert.Empty(t, mustHandle(t, r, "ana", Typing{IsTyping: true}))

	mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})
	mustHandle(t, r, "beto", JoinChat{Username: "Beto", Room: "general"})
	mustHandle(t, r, "zoe", JoinChat{Username: "Zoe", Room: "random"})

	out := mustHandle(t, r, "ana", Typing{IsTyping: true})
	require.Len(t, out, 1)
	assert.Equal(t, Delivery{
		To:    "beto",
		Event: Event{Name: EventUserTyping, Payload: UserTypingPayload{Username: "Ana", IsTyping: true}},
	}, out[0])
}

func TestRouter_LeaveRoom(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})

	out, err := r.Handle(context.Background(), "ana", LeaveRoom{})
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Equal(t, []Event{{Name: EventError, Payload: MessagePayload{Message: "No estás en ninguna sala"}}}, eventsFor(out, "ana"))

	mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})
	mustHandle(t, r, "beto", JoinChat{Username: "Beto", Room: "general"})

	out = mustHandle(t, r, "ana", LeaveRoom{})
	assert.Equal(t, []Event{
		SystemEvent("Ana ha salido de la sala"),
		{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Beto"}}},
	}, eventsFor(out, "beto"))
	assert.Equal(t, []Event{
		{Name: EventLeftRoom, Payload: MessagePayload{Message: "Has salido de la sala exitosamente"}},
	}, eventsFor(out, "ana"))
	assert.Equal(t, []string{"Beto"}, reg.MembersOf("general"))
}

func TestRouter_LastMemberLeavingEmitsNothing(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})
	mustHandle(t, r, "ana", JoinChat{Username: "Ana", Room: "general"})

	assert.Empty(t, mustHandle(t, r, "ana", Disconnect{}))
	assert.Empty(t, reg.Rooms())
}

func TestRouter_DisconnectPrunesPrivateBinding(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})
	mustHandle(t, r, "c1", JoinPrivateChat{UserID: 1})

	mustHandle(t, r, "c1", Disconnect{})

	_, ok := reg.LookupPrivate(1)
	assert.False(t, ok)
}

func TestRouter_DirectoryMatchesSessions(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})
	steps := []struct {
		conn domain.ConnectionID
		cmd  Command
	}{
		{"a", JoinChat{Username: "A", Room: "x"}},
		{"b", JoinChat{Username: "B", Room: "x"}},
		{"c", JoinChat{Username: "C", Room: "y"}},
		{"a", JoinChat{Username: "A", Room: "y"}},
		{"b", LeaveRoom{}},
		{"b", JoinChat{Username: "B", Room: "y"}},
		{"c", Disconnect{}},
		{"a", LeaveRoom{}},
	}

	for i, step := range steps {
		_, _ = r.Handle(context.Background(), step.conn, step.cmd)
		for _, room := range []string{"x", "y"} {
			for _, s := range reg.SessionsOf(room) {
				got, ok := reg.Session(s.ConnectionID)
				require.True(t, ok, "step %d: member without session", i)
				assert.Equal(t, room, got.Room, "step %d", i)
			}
		}
	}
	assert.Equal(t, []string{"B"}, reg.MembersOf("y"))
	assert.Empty(t, reg.MembersOf("x"))
}

func TestRouter_UnknownCommand(t *testing.T) {
	type bogus struct{ Command }
	r, _, _ := newTestRouter(Options{})

	out, err := r.Handle(context.Background(), "c1", bogus{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, []Event{ErrorEvent(ErrUnknownEvent)}, eventsFor(out, "c1"))
}

func TestEvent_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Event{Name: EventRoomUsers, Payload: RoomUsersPayload{Users: []string{"Ana", "Beto"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"room_users","data":{"users":["Ana","Beto"]}}`, string(b))
}

func TestClientMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidJoinRequest, "Faltan datos de usuario o sala"},
		{ErrNotInRoom, "No estás en ninguna sala"},
		{ErrPersistenceUnavailable, "Servicio de mensajes no disponible, intenta de nuevo"},
		{errors.New("sql: database is locked"), "Error interno del servidor"},
	}
	for _, tt := range tests {
		if got := ClientMessage(tt.err); got != tt.want {
			t.Errorf("ClientMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
