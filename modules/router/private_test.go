package router

import (
	"context"
	"fmt"
	"testing"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_PrivateOnlineRecipient(t *testing.T) {
	r, _, store := newTestRouter(Options{})
	mustHandle(t, r, "u1", JoinPrivateChat{UserID: 1})
	mustHandle(t, r, "u2", JoinPrivateChat{UserID: 2})

	out := mustHandle(t, r, "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "hi"})

	require.Len(t, out, 1, "exactly one push expected")
	assert.Equal(t, domain.ConnectionID("u1"), out[0].To)
	assert.Equal(t, EventNewPrivateMessage, out[0].Event.Name)
	msg := out[0].Event.Payload.(*domain.PrivateMessage)
	assert.Equal(t, int64(2), msg.SenderID)
	assert.Equal(t, int64(1), msg.RecipientID)
	assert.Equal(t, "hi", msg.Body)
	assert.False(t, msg.Read)
	assert.Empty(t, eventsFor(out, "u2"), "sender must not receive an echo")
	assert.Len(t, store.messages, 1)
}

func TestRouter_PrivateOfflineRecipient(t *testing.T) {
	r, _, store := newTestRouter(Options{})
	mustHandle(t, r, "u2", JoinPrivateChat{UserID: 2})

	out := mustHandle(t, r, "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "hi"})

	assert.Empty(t, out)
	require.Len(t, store.messages, 1)
	assert.False(t, store.messages[0].Read)
}

func TestRouter_PrivateLastBindingWins(t *testing.T) {
	r, _, _ := newTestRouter(Options{})
	mustHandle(t, r, "old", JoinPrivateChat{UserID: 1})
	mustHandle(t, r, "new", JoinPrivateChat{UserID: 1})

	out := mustHandle(t, r, "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "hi"})

	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnectionID("new"), out[0].To)

	// the old connection going away must not drop the newer binding
	mustHandle(t, r, "old", Disconnect{})
	out = mustHandle(t, r, "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "again"})
	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnectionID("new"), out[0].To)
}

func TestRouter_PrivateAfterRecipientDisconnect(t *testing.T) {
	r, _, store := newTestRouter(Options{})
	mustHandle(t, r, "u1", JoinPrivateChat{UserID: 1})
	mustHandle(t, r, "u1", Disconnect{})

	out := mustHandle(t, r, "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "hi"})

	assert.Empty(t, out, "stale binding must not be used")
	assert.Len(t, store.messages, 1)
}

func TestRouter_PrivateValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SendPrivateMessage
		wantErr error
	}{
		{"missing sender", SendPrivateMessage{RecipientID: 1, Body: "hi"}, ErrInvalidPrivateRequest},
		{"missing recipient", SendPrivateMessage{SenderID: 2, Body: "hi"}, ErrInvalidPrivateRequest},
		{"blank body", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "  "}, ErrEmptyMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, store := newTestRouter(Options{})
			out, err := r.Handle(context.Background(), "u2", tt.cmd)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, []Event{ErrorEvent(tt.wantErr)}, eventsFor(out, "u2"))
			assert.Empty(t, store.messages)
		})
	}
}

func TestRouter_PrivateGatewayFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "unavailable",
			err:     fmt.Errorf("insert-message: %w", ErrPersistenceUnavailable),
			wantMsg: "Servicio de mensajes no disponible, intenta de nuevo",
		},
		{
			name:    "unexpected",
			err:     fmt.Errorf("UNIQUE constraint failed: mensajes_privados.id"),
			wantMsg: "Error interno del servidor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, store := newTestRouter(Options{})
			store.err = tt.err
			mustHandle(t, r, "u1", JoinPrivateChat{UserID: 1})

			out, err := r.Handle(context.Background(), "u2", SendPrivateMessage{SenderID: 2, RecipientID: 1, Body: "hi"})

			require.Error(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, domain.ConnectionID("u2"), out[0].To)
			assert.Equal(t, Event{Name: EventError, Payload: MessagePayload{Message: tt.wantMsg}}, out[0].Event)
		})
	}
}

func TestRouter_PrivateTyping(t *testing.T) {
	r, _, _ := newTestRouter(Options{})

	// recipient offline: no-op
	assert.Empty(t, mustHandle(t, r, "u2", TypingPrivate{UserID: 2, RecipientID: 1}))

	mustHandle(t, r, "u1", JoinPrivateChat{UserID: 1})

	out := mustHandle(t, r, "u2", TypingPrivate{UserID: 2, RecipientID: 1})
	assert.Equal(t, []Delivery{{
		To:    "u1",
		Event: Event{Name: EventUserTypingPrivate, Payload: PrivateTypingPayload{UserID: 2}},
	}}, out)

	out = mustHandle(t, r, "u2", StopTypingPrivate{UserID: 2, RecipientID: 1})
	assert.Equal(t, []Delivery{{
		To:    "u1",
		Event: Event{Name: EventUserStopTypingPrivate, Payload: PrivateTypingPayload{UserID: 2}},
	}}, out)
}

func TestRouter_BindPrivateValidation(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})

	_, err := r.Handle(context.Background(), "u1", JoinPrivateChat{})
	assert.ErrorIs(t, err, ErrInvalidPrivateRequest)
	assert.Equal(t, 0, reg.BindingCount())
}
