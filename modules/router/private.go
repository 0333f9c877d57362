package router

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/example/presence-chat/domain/chat"
)

func (r *Router) bindPrivate(conn domain.ConnectionID, c JoinPrivateChat) ([]Delivery, error) {
	if c.UserID <= 0 {
		return fail(conn, ErrInvalidPrivateRequest)
	}
	r.presence.BindPrivate(int64(c.UserID), conn)
	return nil, nil
}

// sendPrivate stores the message first and pushes it to the recipient only
// when the recipient is bound. The sender gets no echo.
func (r *Router) sendPrivate(ctx context.Context, conn domain.ConnectionID, c SendPrivateMessage) ([]Delivery, error) {
	if c.SenderID <= 0 || c.RecipientID <= 0 {
		return fail(conn, ErrInvalidPrivateRequest)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fail(conn, ErrEmptyMessage)
	}

	msg, err := r.messages.InsertPrivateMessage(ctx, int64(c.SenderID), int64(c.RecipientID), c.Body)
	if err != nil {
		return fail(conn, fmt.Errorf("insert private message: %w", err))
	}

	target, ok := r.presence.LookupPrivate(msg.RecipientID)
	if !ok {
		return nil, nil
	}
	return []Delivery{{
		To:    target,
		Event: Event{Name: EventNewPrivateMessage, Payload: msg},
	}}, nil
}

func (r *Router) typingPrivate(userID, recipientID UserID, name string) []Delivery {
	target, ok := r.presence.LookupPrivate(int64(recipientID))
	if !ok {
		return nil
	}
	return []Delivery{{
		To:    target,
		Event: Event{Name: name, Payload: PrivateTypingPayload{UserID: int64(userID)}},
	}}
}
