package router

import (
	"encoding/json"
	"time"

	domain "github.com/example/presence-chat/domain/chat"
)

// Outbound event names.
const (
	EventSystem                = "system"
	EventError                 = "error"
	EventRoomUsers             = "room_users"
	EventNewMessage            = "new_message"
	EventUserTyping            = "user_typing"
	EventLeftRoom              = "left_room"
	EventNewPrivateMessage     = "new_private_message"
	EventUserTypingPrivate     = "user_typing_private"
	EventUserStopTypingPrivate = "user_stop_typing_private"
	EventMessagesRead          = "messages_read"
)

// Event is an outbound event. It marshals to a Frame.
type Event struct {
	Name    string
	Payload any
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: e.Name, Data: data})
}

// Delivery addresses one outbound event to one connection.
type Delivery struct {
	To    domain.ConnectionID
	Event Event
}

// MessagePayload carries a single human readable message.
type MessagePayload struct {
	Message string `json:"message"`
}

// RoomUsersPayload lists room members in join order.
type RoomUsersPayload struct {
	Users []string `json:"users"`
}

// NewMessagePayload is a room chat message.
type NewMessagePayload struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
}

// UserTypingPayload is a room typing indicator.
type UserTypingPayload struct {
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// PrivateTypingPayload is a private chat typing indicator.
type PrivateTypingPayload struct {
	UserID int64 `json:"userId"`
}

// MessagesReadPayload tells a sender that a reader opened their messages.
type MessagesReadPayload struct {
	ReaderID int64 `json:"lectorId"`
	SenderID int64 `json:"remitenteId"`
	Count    int64 `json:"cantidad"`
}

// SystemEvent builds a system notice.
func SystemEvent(msg string) Event {
	return Event{Name: EventSystem, Payload: MessagePayload{Message: msg}}
}

// ErrorEvent builds the error event sent to a client for err.
func ErrorEvent(err error) Event {
	return Event{Name: EventError, Payload: MessagePayload{Message: ClientMessage(err)}}
}

// MessagesReadEvent builds a read receipt.
func MessagesReadEvent(readerID, senderID, count int64) Event {
	return Event{Name: EventMessagesRead, Payload: MessagesReadPayload{
		ReaderID: readerID,
		SenderID: senderID,
		Count:    count,
	}}
}
