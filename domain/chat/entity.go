package chat

import "time"

// ConnectionID identifies a live client connection. It is only valid while
// the underlying socket is open and is never persisted.
type ConnectionID string

// Session binds a live connection to a display name and its current room.
type Session struct {
	ConnectionID ConnectionID
	DisplayName  string
	Room         string
	JoinedAt     time.Time
}

// RoomMessage is an ephemeral room chat message used only for fan-out.
type RoomMessage struct {
	SenderName   string
	Body         string
	SentAt       time.Time
	ConnectionID ConnectionID
}

// PrivateMessage is a durable one-to-one message. Read only ever moves from
// false to true.
type PrivateMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64     `gorm:"column:remitente_id;not null;index:idx_pair,priority:1" json:"remitente_id"`
	RecipientID int64     `gorm:"column:destinatario_id;not null;index:idx_pair,priority:2" json:"destinatario_id"`
	Body        string    `gorm:"column:mensaje;type:text;not null" json:"mensaje"`
	SentAt      time.Time `gorm:"column:fecha;not null;index" json:"fecha"`
	Read        bool      `gorm:"column:leido;not null;default:false" json:"leido"`
}

// TableName keeps the table name used by existing deployments.
func (PrivateMessage) TableName() string {
	return "mensajes_privados"
}

// User is a registered account. Password is an opaque string and is never
// serialized.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:nombre;not null" json:"nombre"`
	Email     string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"column:password;not null" json:"-"`
	Area      string    `gorm:"column:area" json:"area"`
	GitHub    string    `gorm:"column:github_username" json:"github_username"`
	CreatedAt time.Time `gorm:"column:fecha_registro" json:"fecha_registro"`
}

// TableName keeps the table name used by existing deployments.
func (User) TableName() string {
	return "usuarios"
}

// ConversationSummary describes one contact in a user's conversation list.
type ConversationSummary struct {
	ContactID     int64     `json:"id"`
	Name          string    `json:"nombre"`
	Area          string    `json:"area"`
	LastMessage   string    `json:"ultimo_mensaje"`
	LastMessageAt time.Time `json:"fecha_ultimo_mensaje"`
	Unread        int       `json:"no_leidos"`
}
