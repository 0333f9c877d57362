package messaging

import (
	"context"
	"errors"

	domain "github.com/example/presence-chat/domain/chat"
)

var (
	// ErrNotFound is returned when a message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned when login fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError carries a client-facing explanation of invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Store is the durable backend of the persistence gateway.
type Store interface {
	InsertMessage(ctx context.Context, msg *domain.PrivateMessage) error
	FindMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error)
	// Conversation returns both directions of (a, b) ordered by send time.
	Conversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, error)
	// MessagesInvolving returns every message sent or received by userID,
	// ordered by send time.
	MessagesInvolving(ctx context.Context, userID int64) ([]*domain.PrivateMessage, error)
	// MarkRead flips unread messages from sender to recipient and returns
	// how many changed.
	MarkRead(ctx context.Context, recipientID, senderID int64) (int64, error)

	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error)
	ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error)

	Backend() string
	Ping(ctx context.Context) error
	Close() error
}
