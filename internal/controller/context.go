package controller

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	connIDCtxKey contextKey = iota
)

func (c controller) getConnIDFromCtx(ctx context.Context) string {
	connID, ok := ctx.Value(connIDCtxKey).(string)
	if !ok {
		return ""
	}

	return connID
}

// generateTimeBasedID returns a UUIDv7 so that ids sort by creation time.
func (c controller) generateTimeBasedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
