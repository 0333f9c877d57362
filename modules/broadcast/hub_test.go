package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/metrics"
	"github.com/example/presence-chat/modules/router"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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

// fakeConn records written frames. When block is set, writes wait on it;
// when closeGate is set, Close waits on it.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	written   chan struct{}
	block     chan struct{}
	closeGate chan struct{}
	writeErr  error
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan struct{}, 1024)}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, data)
	c.written <- struct{}{}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitFrames waits until n frames were written and decodes them.
func (c *fakeConn) waitFrames(t *testing.T, n int) []router.Frame {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.written:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]router.Frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f router.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func deliver(to domain.ConnectionID, msg string) router.Delivery {
	return router.Delivery{To: to, Event: router.SystemEvent(msg)}
}

func TestHub_DeliverInOrder(t *testing.T) {
	h := NewHub(8, &mockLogger{}, nil)
	a, b := newFakeConn(), newFakeConn()
	require.NoError(t, h.Register("a", a))
	require.NoError(t, h.Register("b", b))
	t.Cleanup(func() { h.CloseAll() })

	h.Deliver([]router.Delivery{deliver("a", "1"), deliver("b", "x"), deliver("a", "2")})
	h.Deliver([]router.Delivery{deliver("a", "3")})

	frames := a.waitFrames(t, 3)
	require.Len(t, frames, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, router.EventSystem, frames[i].Event)
		assert.JSONEq(t, `{"message":"`+want+`"}`, string(frames[i].Data))
	}
	assert.Len(t, b.waitFrames(t, 1), 1)
}

func TestHub_RegisterTwice(t *testing.T) {
	h := NewHub(1, &mockLogger{}, nil)
	require.NoError(t, h.Register("a", newFakeConn()))
	t.Cleanup(func() { h.CloseAll() })

	assert.ErrorIs(t, h.Register("a", newFakeConn()), ErrAlreadyRegistered)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_DropsForUnknownConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHub(1, &mockLogger{}, metrics.New(reg))

	h.Deliver([]router.Delivery{deliver("ghost", "hi")})

	n, err := testutil.GatherAndCount(reg, "presence_chat_deliveries_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHub_SlowConnectionDoesNotBlock(t *testing.T) {
	h := NewHub(2, &mockLogger{}, nil)
	slow := newFakeConn()
	slow.block = make(chan struct{})
	fast := newFakeConn()
	require.NoError(t, h.Register("slow", slow))
	require.NoError(t, h.Register("fast", fast))

	// the fast peer drains each frame before the next one is sent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Deliver([]router.Delivery{deliver("slow", "s"), deliver("fast", "f")})
			select {
			case <-fast.written:
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Deliver blocked on a slow connection")
	}
	fast.mu.Lock()
	assert.Len(t, fast.frames, 10)
	fast.mu.Unlock()

	close(slow.block)
	h.CloseAll()
	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.Less(t, len(slow.frames), 10, "overflowing frames are dropped")
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub(4, &mockLogger{}, nil)
	c := newFakeConn()
	require.NoError(t, h.Register("a", c))

	h.Unregister("a")
	h.Unregister("a")

	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, c.isClosed(), "the owner closes the connection")

	h.Deliver([]router.Delivery{deliver("a", "late")})
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.frames)
}

func TestHub_WriteErrorClosesConnection(t *testing.T) {
	h := NewHub(4, &mockLogger{}, nil)
	c := newFakeConn()
	c.writeErr = errors.New("broken pipe")
	require.NoError(t, h.Register("a", c))

	h.Deliver([]router.Delivery{deliver("a", "hi")})

	require.Eventually(t, c.isClosed, 2*time.Second, 10*time.Millisecond)
	h.Unregister("a")
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(4, &mockLogger{}, nil)
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	require.NoError(t, h.Register("a", conns[0]))
	require.NoError(t, h.Register("b", conns[1]))

	assert.Equal(t, 2, h.CloseAll())
	assert.Equal(t, 0, h.ClientCount())
	for _, c := range conns {
		assert.True(t, c.isClosed())
	}

	// a later Unregister from the connection owner is harmless
	h.Unregister("a")

	assert.ErrorIs(t, h.Register("c", newFakeConn()), ErrHubClosed)
}

func TestHub_UnregisterDuringCloseAllWaitsForWriter(t *testing.T) {
	h := NewHub(4, &mockLogger{}, nil)
	c := newFakeConn()
	c.closeGate = make(chan struct{})
	require.NoError(t, h.Register("a", c))

	closed := make(chan int, 1)
	go func() { closed <- h.CloseAll() }()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	unregistered := make(chan struct{})
	go func() {
		h.Unregister("a")
		close(unregistered)
	}()

	select {
	case <-unregistered:
		t.Fatal("Unregister returned while the writer was still closing the connection")
	case <-time.After(100 * time.Millisecond):
	}

	close(c.closeGate)
	select {
	case <-unregistered:
	case <-time.After(2 * time.Second):
		t.Fatal("Unregister did not return after the writer exited")
	}
	assert.Equal(t, 1, <-closed)
	assert.True(t, c.isClosed())
}
