package messaging

import (
	"context"
	"testing"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// every new connection would get its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewGormStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertAt(t *testing.T, s Store, sender, recipient int64, body string, at time.Time) *domain.PrivateMessage {
	t.Helper()
	msg := &domain.PrivateMessage{SenderID: sender, RecipientID: recipient, Body: body, SentAt: at}
	require.NoError(t, s.InsertMessage(context.Background(), msg))
	return msg
}

func TestGormStore_InsertAndFind(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msg := insertAt(t, s, 2, 1, "hi", at)
	assert.NotZero(t, msg.ID)

	found, err := s.FindMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.SenderID)
	assert.Equal(t, int64(1), found.RecipientID)
	assert.Equal(t, "hi", found.Body)
	assert.False(t, found.Read)
	assert.True(t, at.Equal(found.SentAt))

	_, err = s.FindMessage(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_ConversationOrder(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insertAt(t, s, 1, 2, "second", base.Add(time.Minute))
	insertAt(t, s, 2, 1, "first", base)
	insertAt(t, s, 1, 3, "other pair", base)
	insertAt(t, s, 2, 1, "third", base.Add(2*time.Minute))

	msgs, err := s.Conversation(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
	assert.Equal(t, "third", msgs[2].Body)

	reversed, err := s.Conversation(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, msgs, reversed)
}

func TestGormStore_MarkReadIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insertAt(t, s, 2, 1, "a", at)
	insertAt(t, s, 2, 1, "b", at.Add(time.Second))
	insertAt(t, s, 1, 2, "reply", at.Add(2*time.Second))

	n, err := s.MarkRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := s.Conversation(ctx, 1, 2)
	require.NoError(t, err)

	n, err = s.MarkRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	second, err := s.Conversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, m := range second {
		if m.SenderID == 2 {
			assert.True(t, m.Read, "message %d should be read", m.ID)
		} else {
			assert.False(t, m.Read, "other direction must stay unread")
		}
	}
}

func TestGormStore_Users(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	ana := &domain.User{Name: "Ana", Email: "ana@techpaint.com", Password: "x", Area: "dev", GitHub: "ana"}
	beto := &domain.User{Name: "Beto", Email: "beto@techpaint.com", Password: "y", Area: "ops", GitHub: "beto"}
	require.NoError(t, s.CreateUser(ctx, beto))
	require.NoError(t, s.CreateUser(ctx, ana))

	dup := &domain.User{Name: "Ana 2", Email: "ana@techpaint.com", Password: "z"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrEmailTaken)

	found, err := s.FindUserByEmail(ctx, "ana@techpaint.com")
	require.NoError(t, err)
	assert.Equal(t, ana.ID, found.ID)
	assert.Equal(t, "x", found.Password)

	_, err = s.FindUserByEmail(ctx, "nobody@techpaint.com")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ana", all[0].Name, "users are ordered by name")

	others, err := s.ListUsers(ctx, ana.ID)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "Beto", others[0].Name)

	byID, err := s.FindUsersByIDs(ctx, []int64{beto.ID, 12345})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, beto.ID, byID[0].ID)

	none, err := s.FindUsersByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormStore_PingAndBackend(t *testing.T) {
	s := setupTestDB(t)

	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "sqlite", s.Backend())
}
