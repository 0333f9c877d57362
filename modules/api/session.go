package api

import (
	"errors"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/router"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// handleWebSocket runs one connection session: it registers the connection
// with the hub, feeds every inbound frame through the dispatcher and always
// dispatches a disconnect on the way out.
func (m *Module) handleWebSocket(c *websocket.Conn) {
	conn := domain.ConnectionID(uuid.NewString())
	if err := m.deps.Hub.Register(conn, c); err != nil {
		m.logger.Error("failed to register connection", "conn", conn, "error", err)
		return
	}

	ctx := m.ctx
	defer func() {
		if err := m.dispatcher.Dispatch(ctx, conn, router.Disconnect{}); err != nil {
			m.logger.Warn("disconnect failed", "conn", conn, "error", err)
		}
		m.deps.Hub.Unregister(conn)
		m.logger.Debug("WebSocket disconnected", "conn", conn)
	}()

	c.SetReadLimit(m.cfg.MaxMessageBytes)
	_ = c.SetReadDeadline(time.Now().Add(broadcast.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(broadcast.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(m.cfg.RateLimit), m.cfg.RateBurst)
	m.logger.Debug("WebSocket connected", "conn", conn)
	_ = m.dispatcher.Dispatch(ctx, conn, router.Connect{})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket read error", "conn", conn, "error", err)
			}
			return
		}
		_ = c.SetReadDeadline(time.Now().Add(broadcast.PongWait))

		if !limiter.Allow() {
			m.deps.Metrics.RateLimited()
			m.dispatcher.Reject(conn, "rate_limited", router.ErrRateLimited)
			continue
		}

		cmd, err := router.Decode(raw)
		if err != nil {
			m.dispatcher.Reject(conn, rejectedEvent(err), err)
			continue
		}
		_ = m.dispatcher.Dispatch(ctx, conn, cmd)
	}
}

func rejectedEvent(err error) string {
	if errors.Is(err, router.ErrUnknownEvent) {
		return "unknown"
	}
	return "malformed"
}
