package router

import (
	"context"
	"sync"
	"testing"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (s *recordingSink) Deliver(out []Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, out...)
}

func (s *recordingSink) all() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func TestDispatcher_Dispatch(t *testing.T) {
	r, _, _ := newTestRouter(Options{})
	sink := &recordingSink{}
	d := NewDispatcher(r, sink, &mockLogger{}, nil)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "ana", Connect{}))
	require.NoError(t, d.Dispatch(ctx, "ana", JoinChat{Username: "Ana", Room: "general"}))
	err := d.Dispatch(ctx, "ana", SendMessage{})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	got := names(eventsFor(sink.all(), "ana"))
	assert.Equal(t, []string{EventSystem, EventSystem, EventSystem, EventRoomUsers, EventError}, got)
}

func TestDispatcher_Reject(t *testing.T) {
	r, _, _ := newTestRouter(Options{})
	sink := &recordingSink{}
	d := NewDispatcher(r, sink, &mockLogger{}, nil)

	d.Reject("c1", "unknown", ErrRateLimited)

	all := sink.all()
	require.Len(t, all, 1)
	assert.Equal(t, Event{Name: EventError, Payload: MessagePayload{Message: "Demasiados mensajes, espera un momento"}}, all[0].Event)
}

// Every member must see the roster updates in the same order even when
// joins race.
func TestDispatcher_ConcurrentJoinsKeepRosterOrder(t *testing.T) {
	r, reg, _ := newTestRouter(Options{})
	sink := &recordingSink{}
	d := NewDispatcher(r, sink, &mockLogger{}, nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := connName(i)
			_ = d.Dispatch(context.Background(), conn, JoinChat{Username: string(conn), Room: "general"})
		}(i)
	}
	wg.Wait()

	final := reg.MembersOf("general")
	require.Len(t, final, n)
	for i := 0; i < n; i++ {
		var last []string
		for _, ev := range eventsFor(sink.all(), connName(i)) {
			if ev.Name == EventRoomUsers {
				last = ev.Payload.(RoomUsersPayload).Users
			}
		}
		assert.Equal(t, final, last, "member %d saw a stale roster last", i)
	}
}

func connName(i int) domain.ConnectionID {
	return domain.ConnectionID(string(rune('a'+i)) + "-conn")
}
