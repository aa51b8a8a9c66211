package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/musicsync/server/internal/service/room"
	"github.com/musicsync/server/pkg/ctxlogger"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/wsrouter"
)

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := newWSConn(c.generateTimeBasedID(), ws)
	if err := c.connRepo.Add(conn); err != nil {
		c.logger.WarnContext(r.Context(), "failed to add connection", "error", err)
		ws.Close()
		return
	}
	c.metrics.ConnectionsOpen.Inc()

	ctx := context.WithValue(context.WithoutCancel(r.Context()), connIDCtxKey, conn.ID())
	ctx = ctxlogger.AppendCtx(ctx, slog.String("conn_id", conn.ID()))
	defer c.disconnect(ctx, conn)

	c.logger.InfoContext(ctx, "websocket connected", "remote_addr", r.RemoteAddr)

	go conn.writePump()

	err = conn.readLoop(func(data []byte) {
		c.handleMessage(ctx, conn, data)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		c.logger.InfoContext(ctx, "websocket read failed", "error", err)
	}
}

func (c controller) disconnect(ctx context.Context, conn *wsConn) {
	conn.Close()

	resp, err := c.roomService.DisconnectMember(ctx, &room.DisconnectMemberParams{ConnID: conn.ID()})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to disconnect member", "error", err)
	}

	if err := c.connRepo.Remove(conn.ID()); err != nil {
		c.logger.WarnContext(ctx, "failed to remove connection", "error", err)
	}

	c.logger.InfoContext(ctx, "websocket disconnected", "room_id", resp.RoomID, "was_host", resp.WasHost)
}

// handleMessage dispatches one frame. Failures are logged and dropped; the
// connection stays open.
func (c controller) handleMessage(ctx context.Context, conn *wsConn, data []byte) {
	err := c.wsmux.ServeMessage(ctx, conn, data)
	if err == nil {
		return
	}

	reason := dropReason(err)
	c.metrics.CommandsDropped.WithLabelValues(reason).Inc()
	c.logger.InfoContext(ctx, "websocket message dropped", "reason", reason, "error", err)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, wsrouter.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, wsrouter.ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, wsrouter.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, wsrouter.ErrHandlerPanic):
		return "panic"
	case errors.Is(err, room.ErrUnauthorizedCommand):
		return "unauthorized"
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrTrackNotFound):
		return "track_not_found"
	case errors.Is(err, room.ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, room.ErrNotInRoom):
		return "not_in_room"
	default:
		return "error"
	}
}

func (c controller) writeToConn(ctx context.Context, conn wsrouter.Conn, out *protocol.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", out.Type, err)
	}

	if err := conn.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", out.Type, err)
	}

	return nil
}

func (c controller) writeRoomError(ctx context.Context, conn wsrouter.Conn, message string) error {
	return c.writeToConn(ctx, conn, &protocol.Output{
		Type:    protocol.TypeRoomError,
		Payload: protocol.RoomErrorPayload{Message: message},
	})
}

func (c controller) handleCreateRoom(ctx context.Context, conn wsrouter.Conn, input protocol.CreateRoomInput) error {
	_, err := c.roomService.CreateRoom(ctx, &room.CreateRoomParams{
		ConnID: c.getConnIDFromCtx(ctx),
		UserID: input.UserID,
		RoomID: input.RoomID,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomAlreadyExists) {
			c.logger.InfoContext(ctx, "room already exists", "room_id", input.RoomID)
			return c.writeRoomError(ctx, conn, protocol.ErrMessageRoomAlreadyExists)
		}
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (c controller) handleJoinRoom(ctx context.Context, conn wsrouter.Conn, input protocol.JoinRoomInput) error {
	_, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		ConnID: c.getConnIDFromCtx(ctx),
		UserID: input.UserID,
		RoomID: input.RoomID,
		Role:   input.Role,
	})
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			c.logger.InfoContext(ctx, "room not found", "room_id", input.RoomID)
			return c.writeRoomError(ctx, conn, protocol.ErrMessageRoomNotFound)
		}
		return fmt.Errorf("failed to join room: %w", err)
	}

	return nil
}

func (c controller) handleLeaveRoom(ctx context.Context, conn wsrouter.Conn, input protocol.LeaveRoomInput) error {
	if _, err := c.roomService.LeaveRoom(ctx, &room.LeaveRoomParams{
		ConnID: c.getConnIDFromCtx(ctx),
		RoomID: input.RoomID,
	}); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	return nil
}

type playerCommand func(context.Context, *room.UpdatePlayerParams) (room.UpdatePlayerResponse, error)

func (c controller) playbackHandler(cmd playerCommand) wsrouter.HandlerFunc[protocol.PlaybackInput] {
	return func(ctx context.Context, conn wsrouter.Conn, input protocol.PlaybackInput) error {
		if _, err := cmd(ctx, &room.UpdatePlayerParams{
			SenderID:     c.getConnIDFromCtx(ctx),
			RoomID:       input.RoomID,
			PlaybackTime: *input.PlaybackTime,
		}); err != nil {
			return err
		}

		return nil
	}
}

func (c controller) handleShareTrack(ctx context.Context, conn wsrouter.Conn, input protocol.ShareTrackInput) error {
	if _, err := c.roomService.ShareTrack(ctx, &room.ShareTrackParams{
		SenderID: c.getConnIDFromCtx(ctx),
		RoomID:   input.RoomID,
		TrackRef: input.TrackRef,
	}); err != nil {
		return err
	}

	return nil
}

func (c controller) handleTransferHost(ctx context.Context, conn wsrouter.Conn, input protocol.TransferHostInput) error {
	if _, err := c.roomService.TransferHost(ctx, &room.TransferHostParams{
		SenderID:     c.getConnIDFromCtx(ctx),
		RoomID:       input.RoomID,
		TargetUserID: input.UserID,
	}); err != nil {
		return err
	}

	return nil
}

func (c controller) handlePing(ctx context.Context, conn wsrouter.Conn, input protocol.PingInput) error {
	return c.writeToConn(ctx, conn, &protocol.Output{
		Type: protocol.TypePong,
		Payload: protocol.PongPayload{
			ClientTime: input.ClientTime,
			ServerTime: c.roomService.Now().UnixMilli(),
		},
	})
}
