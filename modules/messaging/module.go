package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
	"github.com/example/presence-chat/metrics"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Config selects and configures the store.
type Config struct {
	// DatabaseURL selects PostgreSQL when set; otherwise SQLite at DBPath.
	DatabaseURL string
	DBPath      string
	DBDebug     bool
	EmailDomain string
}

// Module is the persistence gateway. It owns the store and exposes it
// through request-reply services.
type Module struct {
	cfg      Config
	cache    ConversationCache
	metrics  *metrics.Metrics
	logger   types.Logger
	store    Store
	service  *Service
	eventBus mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Notifier                   = (*Module)(nil)
)

// NewModule creates the messaging module. cache may be nil.
func NewModule(cfg Config, cache ConversationCache, m *metrics.Metrics, logger types.Logger) *Module {
	return &Module{
		cfg:     cfg,
		cache:   cache,
		metrics: m,
		logger:  logger.WithModule("messaging"),
	}
}

// NewModuleWithStore creates a module around an already open store. It is
// used by tests.
func NewModuleWithStore(store Store, cfg Config, logger types.Logger) *Module {
	m := NewModule(cfg, nil, nil, logger)
	m.store = store
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "messaging"
}

// Start opens the store and builds the service.
func (m *Module) Start(ctx context.Context) error {
	if m.store == nil {
		store, err := m.openStore(ctx)
		if err != nil {
			return err
		}
		m.store = store
	}

	m.service = NewService(m.store, m.logger, ServiceConfig{
		Cache:       m.cache,
		Notifier:    m,
		EmailDomain: m.cfg.EmailDomain,
		Metrics:     m.metrics,
	})
	m.logger.Info("module started", "backend", m.store.Backend(), "cache", m.cache != nil)
	return nil
}

func (m *Module) openStore(ctx context.Context) (Store, error) {
	if m.cfg.DatabaseURL != "" {
		return OpenPostgresStore(ctx, m.cfg.DatabaseURL)
	}
	path := m.cfg.DBPath
	if path == "" {
		path = "presence_chat.db"
	}
	return OpenGormStore(path, m.cfg.DBDebug)
}

// Stop closes the store.
func (m *Module) Stop(_ context.Context) error {
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Warn("failed to close store", "error", err)
		}
	}
	m.logger.Info("module stopped")
	return nil
}

// Health pings the store.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "store not initialized",
		}
	}
	if err := m.service.Health(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("store ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"backend": m.store.Backend(),
			"cache":   m.cache != nil,
		},
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PrivateMessageSentV1.ToBase(),
		events.MessagesReadV1.ToBase(),
	}
}

// MessageStored publishes PrivateMessageSent.
func (m *Module) MessageStored(msg *domain.PrivateMessage) {
	if m.eventBus == nil {
		return
	}
	event := events.PrivateMessageSentEvent{
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		SentAt:      msg.SentAt,
	}
	if err := events.PrivateMessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("failed to publish PrivateMessageSent", "error", err)
	}
}

// MessagesRead publishes MessagesRead.
func (m *Module) MessagesRead(readerID, senderID, count int64, at time.Time) {
	if m.eventBus == nil {
		return
	}
	event := events.MessagesReadEvent{
		ReaderID: readerID,
		SenderID: senderID,
		Count:    count,
		ReadAt:   at,
	}
	if err := events.MessagesReadV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("failed to publish MessagesRead", "error", err)
	}
}

// RegisterServices registers the gateway operations.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceInsertMessage, json.Unmarshal, json.Marshal, m.handleInsertMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceInsertMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceGetMessage, json.Unmarshal, json.Marshal, m.handleGetMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceGetMessage, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceConversation, json.Unmarshal, json.Marshal, m.handleConversation,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceConversation, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMarkRead, json.Unmarshal, json.Marshal, m.handleMarkRead,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceMarkRead, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceConversations, json.Unmarshal, json.Marshal, m.handleConversations,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceConversations, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRegisterUser, json.Unmarshal, json.Marshal, m.handleRegisterUser,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRegisterUser, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceLogin, json.Unmarshal, json.Marshal, m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceLogin, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceListUsers, json.Unmarshal, json.Marshal, m.handleListUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceListUsers, err)
	}

	m.logger.Info("registered services",
		"services", []string{
			ServiceInsertMessage, ServiceGetMessage, ServiceConversation, ServiceMarkRead,
			ServiceConversations, ServiceRegisterUser, ServiceLogin, ServiceListUsers,
		})
	return nil
}

// Handlers translate between the reply types and the service. Domain
// failures go into the reply; anything else is a transport error.

func (m *Module) handleInsertMessage(ctx context.Context, req InsertMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.SendMessage(ctx, req.SenderID, req.RecipientID, req.Body)
	if err != nil {
		f, err := failureFor(err)
		return MessageResponse{Failure: f}, err
	}
	return MessageResponse{Message: msg}, nil
}

func (m *Module) handleGetMessage(ctx context.Context, req GetMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.GetMessage(ctx, req.ID)
	if err != nil {
		f, err := failureFor(err)
		return MessageResponse{Failure: f}, err
	}
	return MessageResponse{Message: msg}, nil
}

func (m *Module) handleConversation(ctx context.Context, req ConversationRequest, _ *mono.Msg) (ConversationResponse, error) {
	msgs, err := m.service.Conversation(ctx, req.UserA, req.UserB)
	if err != nil {
		f, err := failureFor(err)
		return ConversationResponse{Failure: f}, err
	}
	return ConversationResponse{Messages: msgs}, nil
}

func (m *Module) handleMarkRead(ctx context.Context, req MarkReadRequest, _ *mono.Msg) (MarkReadResponse, error) {
	n, err := m.service.MarkRead(ctx, req.ReaderID, req.SenderID)
	if err != nil {
		f, err := failureFor(err)
		return MarkReadResponse{Failure: f}, err
	}
	return MarkReadResponse{Updated: n}, nil
}

func (m *Module) handleConversations(ctx context.Context, req ConversationsRequest, _ *mono.Msg) (ConversationsResponse, error) {
	list, err := m.service.Conversations(ctx, req.UserID)
	if err != nil {
		f, err := failureFor(err)
		return ConversationsResponse{Failure: f}, err
	}
	return ConversationsResponse{Conversations: list}, nil
}

func (m *Module) handleRegisterUser(ctx context.Context, req RegisterUserRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.Register(ctx, RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Area:     req.Area,
		GitHub:   req.GitHub,
	})
	if err != nil {
		f, err := failureFor(err)
		return UserResponse{Failure: f}, err
	}
	return UserResponse{User: user}, nil
}

func (m *Module) handleLogin(ctx context.Context, req LoginRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		f, err := failureFor(err)
		return UserResponse{Failure: f}, err
	}
	return UserResponse{User: user}, nil
}

func (m *Module) handleListUsers(ctx context.Context, req ListUsersRequest, _ *mono.Msg) (ListUsersResponse, error) {
	users, err := m.service.ListUsers(ctx, req.ExcludeID)
	if err != nil {
		f, err := failureFor(err)
		return ListUsersResponse{Failure: f}, err
	}
	return ListUsersResponse{Users: users}, nil
}
