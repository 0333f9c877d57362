package messaging

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/metrics"
	"github.com/go-monolith/mono/pkg/types"
	"golang.org/x/sync/singleflight"
)

// ConversationCache is an optional read-through cache for histories.
type ConversationCache interface {
	GetConversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, bool, error)
	SetConversation(ctx context.Context, a, b int64, msgs []*domain.PrivateMessage) error
	InvalidateConversation(ctx context.Context, a, b int64) error
}

// Notifier is told about state changes other modules may react to.
type Notifier interface {
	MessageStored(msg *domain.PrivateMessage)
	MessagesRead(readerID, senderID, count int64, at time.Time)
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Area     string
	GitHub   string
}

// Service implements the persistence gateway on top of a Store.
type Service struct {
	store       Store
	cache       ConversationCache
	notifier    Notifier
	emailDomain string
	logger      types.Logger
	metrics     *metrics.Metrics
	group       singleflight.Group
	now         func() time.Time
}

// ServiceConfig configures a Service. Cache, Notifier and Metrics may be nil.
type ServiceConfig struct {
	Cache       ConversationCache
	Notifier    Notifier
	EmailDomain string
	Metrics     *metrics.Metrics
}

// NewService creates a Service.
func NewService(store Store, logger types.Logger, cfg ServiceConfig) *Service {
	return &Service{
		store:       store,
		cache:       cfg.Cache,
		notifier:    cfg.Notifier,
		emailDomain: strings.TrimPrefix(strings.TrimSpace(cfg.EmailDomain), "@"),
		logger:      logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// SendMessage stores a new unread message.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID int64, body string) (*domain.PrivateMessage, error) {
	if senderID <= 0 || recipientID <= 0 {
		return nil, &ValidationError{Message: "Faltan remitente o destinatario"}
	}
	if strings.TrimSpace(body) == "" {
		return nil, &ValidationError{Message: "El mensaje no puede estar vacío"}
	}

	msg := &domain.PrivateMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		SentAt:      s.now().UTC().Truncate(time.Microsecond),
		Read:        false,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.invalidate(ctx, senderID, recipientID)
	if s.notifier != nil {
		s.notifier.MessageStored(msg)
	}
	return msg, nil
}

// GetMessage returns one message by id.
func (s *Service) GetMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	return s.store.FindMessage(ctx, id)
}

// Conversation returns the history between a and b in send order. Reads go
// through the cache when one is configured, and concurrent misses for the
// same pair share one store query.
func (s *Service) Conversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, error) {
	if a <= 0 || b <= 0 {
		return nil, &ValidationError{Message: "Faltan usuario o contacto"}
	}
	if s.cache == nil {
		return s.store.Conversation(ctx, a, b)
	}

	msgs, hit, err := s.cache.GetConversation(ctx, a, b)
	if err != nil {
		s.logger.Warn("conversation cache read failed", "error", err)
	}
	if hit {
		s.metrics.CacheLookup(true)
		return msgs, nil
	}
	s.metrics.CacheLookup(false)

	v, err, _ := s.group.Do(pairKey(a, b), func() (any, error) {
		msgs, err := s.store.Conversation(ctx, a, b)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetConversation(ctx, a, b, msgs); err != nil {
			s.logger.Warn("conversation cache write failed", "error", err)
		}
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.PrivateMessage), nil
}

// MarkRead marks every unread message from senderID to readerID as read and
// returns how many changed. Repeated calls return 0.
func (s *Service) MarkRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	if readerID <= 0 || senderID <= 0 {
		return 0, &ValidationError{Message: "Faltan usuario o remitente"}
	}

	n, err := s.store.MarkRead(ctx, readerID, senderID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, readerID, senderID)
		if s.notifier != nil {
			s.notifier.MessagesRead(readerID, senderID, n, s.now().UTC())
		}
	}
	return n, nil
}

// Conversations lists userID's contacts with the last message and the
// number of unread messages from each, most recent first.
func (s *Service) Conversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	if userID <= 0 {
		return nil, &ValidationError{Message: "Falta el usuario"}
	}

	msgs, err := s.store.MessagesInvolving(ctx, userID)
	if err != nil {
		return nil, err
	}

	byContact := make(map[int64]*domain.ConversationSummary)
	for _, m := range msgs {
		contact := m.RecipientID
		if m.RecipientID == userID {
			contact = m.SenderID
		}
		sum, ok := byContact[contact]
		if !ok {
			sum = &domain.ConversationSummary{ContactID: contact}
			byContact[contact] = sum
		}
		// msgs are in send order, so the last one seen wins.
		sum.LastMessage = m.Body
		sum.LastMessageAt = m.SentAt
		if m.RecipientID == userID && m.SenderID == contact && !m.Read {
			sum.Unread++
		}
	}

	ids := make([]int64, 0, len(byContact))
	for id := range byContact {
		ids = append(ids, id)
	}
	users, err := s.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if sum, ok := byContact[u.ID]; ok {
			sum.Name = u.Name
			sum.Area = u.Area
		}
	}

	out := make([]domain.ConversationSummary, 0, len(byContact))
	for _, sum := range byContact {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ContactID < out[j].ContactID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Area = strings.TrimSpace(in.Area)
	in.GitHub = strings.TrimSpace(in.GitHub)

	if in.Name == "" || in.Email == "" || in.Password == "" || in.Area == "" {
		return nil, &ValidationError{Message: "Todos los campos son obligatorios"}
	}
	if s.emailDomain != "" && !strings.HasSuffix(in.Email, "@"+s.emailDomain) {
		return nil, &ValidationError{Message: "El email debe ser del dominio @" + s.emailDomain}
	}

	user := &domain.User{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Area:     in.Area,
		GitHub:   in.GitHub,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login returns the user whose email and password match.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, &ValidationError{Message: "Email y contraseña son obligatorios"}
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Password != password {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ListUsers returns every user except excludeID.
func (s *Service) ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error) {
	return s.store.ListUsers(ctx, excludeID)
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) invalidate(ctx context.Context, a, b int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateConversation(ctx, a, b); err != nil {
		s.logger.Warn("conversation cache invalidation failed", "error", err)
	}
}

func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
