package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/example/presence-chat/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore keeps messages and users in SQLite through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore opens (or creates) the SQLite database at path and migrates
// the schema.
func OpenGormStore(path string, debug bool) (*GormStore, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := NewGormStore(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewGormStore wraps an open GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&domain.User{}, &domain.PrivateMessage{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// InsertMessage stores msg and fills in its id.
func (s *GormStore) InsertMessage(ctx context.Context, msg *domain.PrivateMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindMessage retrieves a message by id.
func (s *GormStore) FindMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error) {
	var msg domain.PrivateMessage
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

// Conversation returns both directions of (a, b) in send order.
func (s *GormStore) Conversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, error) {
	var msgs []*domain.PrivateMessage
	err := s.db.WithContext(ctx).
		Where("(remitente_id = ? AND destinatario_id = ?) OR (remitente_id = ? AND destinatario_id = ?)", a, b, b, a).
		Order("fecha ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return msgs, nil
}

// MessagesInvolving returns all messages sent or received by userID.
func (s *GormStore) MessagesInvolving(ctx context.Context, userID int64) ([]*domain.PrivateMessage, error) {
	var msgs []*domain.PrivateMessage
	err := s.db.WithContext(ctx).
		Where("remitente_id = ? OR destinatario_id = ?", userID, userID).
		Order("fecha ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

// MarkRead flips unread messages from senderID to recipientID.
func (s *GormStore) MarkRead(ctx context.Context, recipientID, senderID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.PrivateMessage{}).
		Where("destinatario_id = ? AND remitente_id = ? AND leido = ?", recipientID, senderID, false).
		Update("leido", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateUser stores a new user.
func (s *GormStore) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email.
func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// FindUsersByIDs retrieves the users with the given ids. Missing ids are
// skipped.
func (s *GormStore) FindUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	var users []*domain.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	return users, nil
}

// ListUsers returns every user except excludeID, ordered by name.
func (s *GormStore) ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error) {
	var users []*domain.User
	if err := s.db.WithContext(ctx).Where("id <> ?", excludeID).Order("nombre ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Backend names the storage engine.
func (s *GormStore) Backend() string {
	return "sqlite"
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
