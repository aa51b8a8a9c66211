package connection

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Conn is one accepted client channel. Send must not block.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session is what the gateway knows about a connection beyond its socket.
type Session struct {
	RoomID string
	UserID string
}
