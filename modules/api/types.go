package api

import (
	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/presence"
)

// ErrorResponse is the API error response. Success is always false.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Name     string `json:"nombre"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Area     string `json:"area"`
	GitHub   string `json:"github"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse wraps a user.
type UserResponse struct {
	Success bool         `json:"success"`
	User    *domain.User `json:"user"`
}

// UsersResponse lists users.
type UsersResponse struct {
	Success bool           `json:"success"`
	Users   []*domain.User `json:"usuarios"`
}

// ConversationsResponse lists a user's conversations.
type ConversationsResponse struct {
	Success       bool                         `json:"success"`
	Conversations []domain.ConversationSummary `json:"conversaciones"`
}

// MessagesResponse carries a conversation history.
type MessagesResponse struct {
	Success  bool                     `json:"success"`
	Messages []*domain.PrivateMessage `json:"mensajes"`
}

// MarkReadRequest is the body of POST /api/mensajes/leer.
type MarkReadRequest struct {
	UserID   int64 `json:"usuario_id"`
	SenderID int64 `json:"remitente_id"`
}

// MarkReadAliasRequest is the body of POST /api/marcar-leidos.
type MarkReadAliasRequest struct {
	UserID      int64 `json:"usuarioId"`
	RecipientID int64 `json:"destinatarioId"`
}

// MarkReadResponse reports how many messages were marked.
type MarkReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"actualizados"`
}

// RoomsResponse lists live rooms.
type RoomsResponse struct {
	Rooms []presence.RoomInfo `json:"salas"`
	Total int                 `json:"total"`
}

// HealthResponse aggregates module health.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Modules map[string]ModuleHealth `json:"modules"`
}

// ModuleHealth is the health of one module.
type ModuleHealth struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
