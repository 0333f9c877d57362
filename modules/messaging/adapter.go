package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/metrics"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Gateway is the persistence gateway contract used by the router and the
// HTTP API.
type Gateway interface {
	InsertPrivateMessage(ctx context.Context, senderID, recipientID int64, body string) (*domain.PrivateMessage, error)
	FetchPrivateMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error)
	FetchConversation(ctx context.Context, userA, userB int64) ([]*domain.PrivateMessage, error)
	MarkRead(ctx context.Context, recipientID, senderID int64) (int64, error)
	Conversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error)
	RegisterUser(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, error)
	ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error)
}

// Transport performs one request-reply exchange.
type Transport func(ctx context.Context, service string, req, resp any) error

// ContainerTransport calls services registered in container.
func ContainerTransport(container mono.ServiceContainer) Transport {
	return func(ctx context.Context, service string, req, resp any) error {
		// resp holds a pointer; json decodes through the interface into it.
		return helper.CallRequestReplyService[any, any](
			ctx,
			container,
			service,
			json.Marshal,
			json.Unmarshal,
			req,
			&resp,
		)
	}
}

// AdapterOptions bounds gateway calls.
type AdapterOptions struct {
	Timeout     time.Duration
	MaxInFlight int64
	Metrics     *metrics.Metrics
}

// Adapter implements Gateway over a Transport. Every call gets its own
// timeout and waits for a slot among MaxInFlight; running out of either
// yields domain.ErrPersistenceUnavailable.
type Adapter struct {
	transport Transport
	timeout   time.Duration
	slots     *semaphore.Weighted
	tracer    trace.Tracer
	metrics   *metrics.Metrics
}

var _ Gateway = (*Adapter)(nil)

// NewAdapter creates an Adapter.
func NewAdapter(transport Transport, opts AdapterOptions) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	return &Adapter{
		transport: transport,
		timeout:   opts.Timeout,
		slots:     semaphore.NewWeighted(opts.MaxInFlight),
		tracer:    otel.Tracer("github.com/example/presence-chat/modules/messaging"),
		metrics:   opts.Metrics,
	}
}

// InsertPrivateMessage stores a message. The call is detached from ctx
// cancellation so that a client disconnecting mid-send does not abort the
// write; only the adapter timeout bounds it.
func (a *Adapter) InsertPrivateMessage(ctx context.Context, senderID, recipientID int64, body string) (*domain.PrivateMessage, error) {
	req := InsertMessageRequest{SenderID: senderID, RecipientID: recipientID, Body: body}
	var resp MessageResponse
	if err := a.invoke(context.WithoutCancel(ctx), "insert_private_message", ServiceInsertMessage, &req, &resp, &resp.Failure,
		attribute.Int64("chat.sender_id", senderID),
		attribute.Int64("chat.recipient_id", recipientID),
	); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// FetchPrivateMessage returns one message.
func (a *Adapter) FetchPrivateMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error) {
	req := GetMessageRequest{ID: id}
	var resp MessageResponse
	if err := a.invoke(ctx, "fetch_private_message", ServiceGetMessage, &req, &resp, &resp.Failure,
		attribute.Int64("chat.message_id", id),
	); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// FetchConversation returns the history of a pair in send order.
func (a *Adapter) FetchConversation(ctx context.Context, userA, userB int64) ([]*domain.PrivateMessage, error) {
	req := ConversationRequest{UserA: userA, UserB: userB}
	var resp ConversationResponse
	if err := a.invoke(ctx, "fetch_conversation", ServiceConversation, &req, &resp, &resp.Failure); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []*domain.PrivateMessage{}
	}
	return resp.Messages, nil
}

// MarkRead marks senderID's messages to recipientID as read.
func (a *Adapter) MarkRead(ctx context.Context, recipientID, senderID int64) (int64, error) {
	req := MarkReadRequest{ReaderID: recipientID, SenderID: senderID}
	var resp MarkReadResponse
	if err := a.invoke(ctx, "mark_read", ServiceMarkRead, &req, &resp, &resp.Failure); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Conversations lists a user's contacts.
func (a *Adapter) Conversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	req := ConversationsRequest{UserID: userID}
	var resp ConversationsResponse
	if err := a.invoke(ctx, "conversations", ServiceConversations, &req, &resp, &resp.Failure); err != nil {
		return nil, err
	}
	if resp.Conversations == nil {
		resp.Conversations = []domain.ConversationSummary{}
	}
	return resp.Conversations, nil
}

// RegisterUser creates an account.
func (a *Adapter) RegisterUser(ctx context.Context, in RegisterInput) (*domain.User, error) {
	req := RegisterUserRequest{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Area:     in.Area,
		GitHub:   in.GitHub,
	}
	var resp UserResponse
	if err := a.invoke(ctx, "register_user", ServiceRegisterUser, &req, &resp, &resp.Failure); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login checks credentials.
func (a *Adapter) Login(ctx context.Context, email, password string) (*domain.User, error) {
	req := LoginRequest{Email: email, Password: password}
	var resp UserResponse
	if err := a.invoke(ctx, "login", ServiceLogin, &req, &resp, &resp.Failure); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// ListUsers lists users except excludeID.
func (a *Adapter) ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error) {
	req := ListUsersRequest{ExcludeID: excludeID}
	var resp ListUsersResponse
	if err := a.invoke(ctx, "list_users", ServiceListUsers, &req, &resp, &resp.Failure); err != nil {
		return nil, err
	}
	if resp.Users == nil {
		resp.Users = []*domain.User{}
	}
	return resp.Users, nil
}

// invoke runs one bounded, traced exchange and decodes the reply failure.
func (a *Adapter) invoke(ctx context.Context, op, service string, req, resp any, failure *Failure, attrs ...attribute.KeyValue) (err error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("gateway.service", service))...),
	)
	defer func() {
		kind := ""
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, domain.ErrPersistenceUnavailable):
			kind = "unavailable"
		case failure.ErrorCode != "":
			kind = failure.ErrorCode
		default:
			kind = "internal"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.metrics.GatewayCall(op, started, kind)
	}()

	if err := a.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: no free slot: %w", op, domain.ErrPersistenceUnavailable)
	}
	defer a.slots.Release(1)

	if err := a.transport(ctx, service, req, resp); err != nil {
		if isUnavailable(ctx, err) {
			return fmt.Errorf("%s: %w", op, domain.ErrPersistenceUnavailable)
		}
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	return failure.Err()
}

func isUnavailable(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrConnectionClosed)
}
