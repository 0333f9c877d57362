package messaging

import (
	"errors"

	domain "github.com/example/presence-chat/domain/chat"
)

// Service names registered in the service container.
const (
	ServiceInsertMessage = "insert-message"
	ServiceGetMessage    = "get-message"
	ServiceConversation  = "conversation"
	ServiceMarkRead      = "mark-read"
	ServiceConversations = "conversations"
	ServiceRegisterUser  = "register-user"
	ServiceLogin         = "login"
	ServiceListUsers     = "list-users"
)

// Error codes carried in replies so callers can rebuild sentinel errors.
const (
	codeNotFound           = "not_found"
	codeEmailTaken         = "email_taken"
	codeInvalidCredentials = "invalid_credentials"
	codeValidation         = "validation"
)

// Failure is embedded in every reply. Domain failures travel here instead
// of as transport errors.
type Failure struct {
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// failureFor converts a domain error into a reply Failure. Unknown errors
// are returned unchanged so the transport reports them.
func failureFor(err error) (Failure, error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return Failure{ErrorCode: codeValidation, Error: verr.Message}, nil
	case errors.Is(err, ErrNotFound):
		return Failure{ErrorCode: codeNotFound, Error: err.Error()}, nil
	case errors.Is(err, ErrEmailTaken):
		return Failure{ErrorCode: codeEmailTaken, Error: err.Error()}, nil
	case errors.Is(err, ErrInvalidCredentials):
		return Failure{ErrorCode: codeInvalidCredentials, Error: err.Error()}, nil
	default:
		return Failure{}, err
	}
}

// Err rebuilds the domain error carried by f, or nil.
func (f Failure) Err() error {
	switch f.ErrorCode {
	case "":
		return nil
	case codeValidation:
		return &ValidationError{Message: f.Error}
	case codeNotFound:
		return ErrNotFound
	case codeEmailTaken:
		return ErrEmailTaken
	case codeInvalidCredentials:
		return ErrInvalidCredentials
	default:
		return errors.New(f.Error)
	}
}

// InsertMessageRequest stores a private message.
type InsertMessageRequest struct {
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Body        string `json:"body"`
}

// MessageResponse carries one message.
type MessageResponse struct {
	Failure
	Message *domain.PrivateMessage `json:"message,omitempty"`
}

// GetMessageRequest fetches one message.
type GetMessageRequest struct {
	ID int64 `json:"id"`
}

// ConversationRequest fetches the history of a pair.
type ConversationRequest struct {
	UserA int64 `json:"user_a"`
	UserB int64 `json:"user_b"`
}

// ConversationResponse carries a history.
type ConversationResponse struct {
	Failure
	Messages []*domain.PrivateMessage `json:"messages"`
}

// MarkReadRequest marks SenderID's messages to ReaderID as read.
type MarkReadRequest struct {
	ReaderID int64 `json:"reader_id"`
	SenderID int64 `json:"sender_id"`
}

// MarkReadResponse reports how many messages changed.
type MarkReadResponse struct {
	Failure
	Updated int64 `json:"updated"`
}

// ConversationsRequest lists a user's contacts.
type ConversationsRequest struct {
	UserID int64 `json:"user_id"`
}

// ConversationsResponse carries contact summaries.
type ConversationsResponse struct {
	Failure
	Conversations []domain.ConversationSummary `json:"conversations"`
}

// RegisterUserRequest creates an account.
type RegisterUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Area     string `json:"area"`
	GitHub   string `json:"github"`
}

// LoginRequest checks credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse carries one user.
type UserResponse struct {
	Failure
	User *domain.User `json:"user,omitempty"`
}

// ListUsersRequest lists users except ExcludeID.
type ListUsersRequest struct {
	ExcludeID int64 `json:"exclude_id"`
}

// ListUsersResponse carries users.
type ListUsersResponse struct {
	Failure
	Users []*domain.User `json:"users"`
}
