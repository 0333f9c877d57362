package broadcast

import (
	"context"
	"fmt"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/metrics"
	"github.com/example/presence-chat/modules/router"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Bindings resolves a user id to the connection bound to it.
type Bindings interface {
	LookupPrivate(userID int64) (domain.ConnectionID, bool)
}

// Module owns the Hub and turns messaging events into pushes to live
// connections.
type Module struct {
	hub      *Hub
	bindings Bindings
	metrics  *metrics.Metrics
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the broadcast module. sendBuffer is the per-connection
// queue size.
func NewModule(bindings Bindings, sendBuffer int, m *metrics.Metrics, logger types.Logger) *Module {
	logger = logger.WithModule("broadcast")
	return &Module{
		hub:      NewHub(sendBuffer, logger, m),
		bindings: bindings,
		metrics:  m,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "broadcast"
}

// Hub returns the hub for the API module to use.
func (m *Module) Hub() *Hub {
	return m.hub
}

// Start implements mono.Module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("module started", "send_buffer", m.hub.bufferSize)
	return nil
}

// Stop closes every remaining connection.
func (m *Module) Stop(_ context.Context) error {
	closed := m.hub.CloseAll()
	m.logger.Info("module stopped", "closed_connections", closed)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessagesReadV1, m.handleMessagesRead, m,
	); err != nil {
		return fmt.Errorf("failed to register MessagesRead consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.PrivateMessageSentV1, m.handlePrivateMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register PrivateMessageSent consumer: %w", err)
	}

	m.logger.Info("registered event consumers", "events", []string{"MessagesRead", "PrivateMessageSent"})
	return nil
}

// handleMessagesRead pushes a read receipt to the original sender when
// they have a live binding.
func (m *Module) handleMessagesRead(_ context.Context, event events.MessagesReadEvent, _ *mono.Msg) error {
	conn, ok := m.bindings.LookupPrivate(event.SenderID)
	if !ok {
		return nil
	}
	m.hub.Deliver([]router.Delivery{{
		To:    conn,
		Event: router.MessagesReadEvent(event.ReaderID, event.SenderID, event.Count),
	}})
	m.logger.Debug("read receipt pushed", "sender_id", event.SenderID, "reader_id", event.ReaderID)
	return nil
}

// handlePrivateMessageSent records whether a stored message found its
// recipient online or waits for a later fetch.
func (m *Module) handlePrivateMessageSent(_ context.Context, event events.PrivateMessageSentEvent, _ *mono.Msg) error {
	_, online := m.bindings.LookupPrivate(event.RecipientID)
	m.metrics.PrivateMessageStored(online)
	m.logger.Debug("private message stored", "message_id", event.MessageID, "recipient_online", online)
	return nil
}
