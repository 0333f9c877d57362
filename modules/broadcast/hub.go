package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/metrics"
	"github.com/example/presence-chat/modules/router"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

const (
	writeWait = 10 * time.Second

	// PongWait is how long a connection may stay silent before its reader
	// gives up. Pings go out often enough to keep live peers inside it.
	PongWait   = 60 * time.Second
	pingPeriod = (PongWait * 9) / 10
)

var (
	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrHubClosed is returned by Register after CloseAll.
	ErrHubClosed = errors.New("hub closed")
)

// Conn is the write side of a WebSocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client is one registered connection with its outbound queue. Only its
// writer goroutine touches conn, and it stops doing so before done closes.
type client struct {
	id       domain.ConnectionID
	conn     Conn
	send     chan []byte
	quit     chan struct{}
	shutdown chan struct{}
	done     chan struct{}

	quitOnce     sync.Once
	shutdownOnce sync.Once
}

// stop makes the writer exit and leave the connection open.
func (c *client) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// closeConn makes the writer close the connection and exit.
func (c *client) closeConn() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

// Hub owns the outbound side of every live connection. Each connection has
// a bounded queue drained by its own writer goroutine, so Deliver never
// waits on a slow peer.
//
// Clients taken by CloseAll stay in draining until their writers exit, so
// an Unregister racing with shutdown still waits for the writer.
type Hub struct {
	clients    map[domain.ConnectionID]*client
	draining   map[domain.ConnectionID]*client
	closed     bool
	bufferSize int
	logger     types.Logger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

var _ router.Sink = (*Hub)(nil)

// NewHub creates a Hub whose per-connection queues hold bufferSize frames.
func NewHub(bufferSize int, logger types.Logger, m *metrics.Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		clients:    make(map[domain.ConnectionID]*client),
		draining:   make(map[domain.ConnectionID]*client),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}
}

// Register adds a connection and starts its writer.
func (h *Hub) Register(id domain.ConnectionID, conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.clients[id]; ok {
		return ErrAlreadyRegistered
	}
	c := &client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, h.bufferSize),
		quit:     make(chan struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.clients[id] = c

	go h.writePump(c)

	h.metrics.ConnectionOpened()
	h.logger.Debug("client registered", "conn", id)
	return nil
}

// Unregister removes a connection and waits for its writer to exit. Frames
// still queued are discarded. The connection itself is not closed. Once
// Unregister returns the hub no longer uses the connection.
func (h *Hub) Unregister(id domain.ConnectionID) {
	h.mu.Lock()
	c, registered := h.clients[id]
	if registered {
		delete(h.clients, id)
	} else {
		c = h.draining[id]
	}
	h.mu.Unlock()

	if c == nil {
		return
	}
	c.stop()
	<-c.done

	if registered {
		h.metrics.ConnectionClosed()
		h.logger.Debug("client unregistered", "conn", id)
	}
}

// Deliver queues each event for its connection. Deliveries to unknown
// connections or to full queues are dropped.
func (h *Hub) Deliver(deliveries []router.Delivery) {
	if len(deliveries) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	queued := 0
	for _, d := range deliveries {
		c, ok := h.clients[d.To]
		if !ok {
			h.metrics.Dropped("gone")
			continue
		}
		data, err := json.Marshal(d.Event)
		if err != nil {
			h.metrics.Dropped("encode")
			h.logger.Error("failed to encode event", "event", d.Event.Name, "error", err)
			continue
		}
		select {
		case c.send <- data:
			queued++
		default:
			h.metrics.Dropped("queue_full")
			h.logger.Warn("send queue full, dropping event", "conn", d.To, "event", d.Event.Name)
		}
	}
	h.metrics.Delivered(queued)
}

// CloseAll has every writer close its connection, waits for the writers to
// exit and refuses later registrations. It returns the number of connections
// it closed.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		h.draining[id] = c
		clients = append(clients, c)
	}
	h.clients = make(map[domain.ConnectionID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeConn()
		h.metrics.ConnectionClosed()
	}
	for _, c := range clients {
		<-c.done
	}

	h.mu.Lock()
	for _, c := range clients {
		if h.draining[c.id] == c {
			delete(h.draining, c.id)
		}
	}
	h.mu.Unlock()
	return len(clients)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump writes queued frames to c until it is unregistered or shut
// down. A failed write closes the connection so its reader notices.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	for {
		var err error
		select {
		case <-c.quit:
			return
		case <-c.shutdown:
			_ = c.conn.Close()
			return
		case data := <-c.send:
			err = h.write(c, websocket.TextMessage, data)
		case <-ticker.C:
			err = h.write(c, websocket.PingMessage, nil)
		}
		if err != nil {
			h.logger.Debug("write failed, closing connection", "conn", c.id, "error", err)
			_ = c.conn.Close()
			return
		}
	}
}

func (h *Hub) write(c *client, messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
