package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/musicsync/server/pkg/ctxlogger"
	"github.com/musicsync/server/pkg/wsrouter"
)

func (c controller) wsRequestIDWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn wsrouter.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedID()))
			return next(ctx, conn, payload)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn wsrouter.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "websocket message received", "payload", payload)

			start := time.Now()

			err := next(ctx, conn, payload)

			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
				"error", err,
			)

			return err
		}
	}
}

func (c controller) metricsWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn wsrouter.Conn, payload any) error {
			messageType := wsrouter.GetMessageTypeFromCtx(ctx)
			start := time.Now()

			err := next(ctx, conn, payload)

			result := "ok"
			if err != nil {
				result = "error"
			}
			c.metrics.MessagesTotal.WithLabelValues(messageType, result).Inc()
			c.metrics.MessageDuration.WithLabelValues(messageType).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
