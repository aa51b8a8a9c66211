package wsrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrHandlerPanic       = errors.New("handler panicked")
)

// Conn is the sending side of a client connection as seen by handlers.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc[T any] func(ctx context.Context, conn Conn, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

type route struct {
	decode  func(json.RawMessage) (any, error)
	handler HandlerFunc[any]
}

type WSRouter struct {
	routes      map[string]route
	middlewares []Middleware
	validate    func(any) error
}

// New returns an empty router. validate, when not nil, runs on every decoded
// payload before the handler.
func New(validate func(any) error) *WSRouter {
	return &WSRouter{
		routes:   make(map[string]route),
		validate: validate,
	}
}

// Use appends middlewares; the first one added is the outermost.
func (r *WSRouter) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

// Handle registers a typed handler for messageType.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = route{
		decode: func(raw json.RawMessage) (any, error) {
			var payload T
			trimmed := bytes.TrimSpace(raw)
			if len(trimmed) != 0 && !bytes.Equal(trimmed, []byte("null")) {
				if err := json.Unmarshal(trimmed, &payload); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
				}
			}

			if r.validate != nil {
				if err := r.validate(payload); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
				}
			}

			return payload, nil
		},
		handler: func(ctx context.Context, conn Conn, payload any) error {
			return handler(ctx, conn, payload.(T))
		},
	}
}

// ServeMessage decodes one envelope and dispatches it. Errors are returned to
// the caller, which decides whether to reply; the connection is never closed
// here.
func (r *WSRouter) ServeMessage(ctx context.Context, conn Conn, data []byte) (err error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	rt, ok := r.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}

	ctx = context.WithValue(ctx, messageTypeKey, msg.Type)

	payload, err := rt.decode(msg.Payload)
	if err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	h := rt.handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	return h(ctx, conn, payload)
}
