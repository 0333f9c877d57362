package chat

import "errors"

// ErrPersistenceUnavailable is returned when the message store cannot be
// reached in time.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")
