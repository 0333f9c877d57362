package router

import (
	"errors"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/presence"
)

// Errors reported back to the originating connection as an error event.
// None of them closes the connection.
var (
	ErrInvalidJoinRequest     = errors.New("username and room are required")
	ErrDuplicateJoin          = presence.ErrDuplicateJoin
	ErrEmptyMessage           = errors.New("message body is empty")
	ErrNoActiveRoom           = errors.New("connection has no active room")
	ErrNotInRoom              = errors.New("connection is not in a room")
	ErrPersistenceUnavailable = domain.ErrPersistenceUnavailable
	ErrInvalidPrivateRequest  = errors.New("private chat request is missing user ids")
	ErrUnknownEvent           = errors.New("unknown event")
	ErrMalformedFrame         = errors.New("malformed frame")
	ErrRateLimited            = errors.New("rate limit exceeded")
)

// Client-facing texts. Unexpected failures always map to msgInternal so
// that internal details never reach the client.
const (
	msgInvalidJoin    = "Faltan datos de usuario o sala"
	msgDuplicateJoin  = "Ya estás en una sala"
	msgEmptyMessage   = "El mensaje no puede estar vacío"
	msgNoActiveRoom   = "No estás en ninguna sala activa"
	msgNotInRoom      = "No estás en ninguna sala"
	msgUnavailable    = "Servicio de mensajes no disponible, intenta de nuevo"
	msgInvalidPrivate = "Faltan datos del mensaje privado"
	msgUnknownEvent   = "Evento desconocido"
	msgMalformedFrame = "Formato de mensaje inválido"
	msgRateLimited    = "Demasiados mensajes, espera un momento"
	msgInternal       = "Error interno del servidor"
)

var clientMessages = []struct {
	err error
	msg string
}{
	{ErrInvalidJoinRequest, msgInvalidJoin},
	{ErrDuplicateJoin, msgDuplicateJoin},
	{ErrEmptyMessage, msgEmptyMessage},
	{ErrNoActiveRoom, msgNoActiveRoom},
	{ErrNotInRoom, msgNotInRoom},
	{ErrPersistenceUnavailable, msgUnavailable},
	{ErrInvalidPrivateRequest, msgInvalidPrivate},
	{ErrUnknownEvent, msgUnknownEvent},
	{ErrMalformedFrame, msgMalformedFrame},
	{ErrRateLimited, msgRateLimited},
}

// ClientMessage returns the text sent to a client for err.
func ClientMessage(err error) string {
	for _, m := range clientMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return msgInternal
}

// IsExpected reports whether err belongs to the router error taxonomy.
func IsExpected(err error) bool {
	return ClientMessage(err) != msgInternal
}
