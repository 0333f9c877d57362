package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// PrivateMessageSentEvent is emitted after a private message is stored.
type PrivateMessageSentEvent struct {
	MessageID   int64     `json:"message_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	SentAt      time.Time `json:"sent_at"`
}

// MessagesReadEvent is emitted when a reader marks a sender's messages as read.
type MessagesReadEvent struct {
	ReaderID int64     `json:"reader_id"`
	SenderID int64     `json:"sender_id"`
	Count    int64     `json:"count"`
	ReadAt   time.Time `json:"read_at"`
}

// Event definitions for the messaging domain.
var (
	PrivateMessageSentV1 = helper.EventDefinition[PrivateMessageSentEvent](
		"messaging",
		"PrivateMessageSent",
		"v1",
	)

	MessagesReadV1 = helper.EventDefinition[MessagesReadEvent](
		"messaging",
		"MessagesRead",
		"v1",
	)
)
