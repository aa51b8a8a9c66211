package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/musicsync/server/internal/metrics"
	"github.com/musicsync/server/internal/repository/connection"
	"github.com/musicsync/server/internal/service/room"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/validator"
	"github.com/musicsync/server/pkg/wsrouter"
)

type iRoomService interface {
	CreateRoom(context.Context, *room.CreateRoomParams) (room.CreateRoomResponse, error)
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	LeaveRoom(context.Context, *room.LeaveRoomParams) (room.LeaveRoomResponse, error)
	DisconnectMember(context.Context, *room.DisconnectMemberParams) (room.DisconnectMemberResponse, error)
	Play(context.Context, *room.UpdatePlayerParams) (room.UpdatePlayerResponse, error)
	Pause(context.Context, *room.UpdatePlayerParams) (room.UpdatePlayerResponse, error)
	Seek(context.Context, *room.UpdatePlayerParams) (room.UpdatePlayerResponse, error)
	Heartbeat(context.Context, *room.UpdatePlayerParams) (room.UpdatePlayerResponse, error)
	ShareTrack(context.Context, *room.ShareTrackParams) (room.ShareTrackResponse, error)
	TransferHost(context.Context, *room.TransferHostParams) (room.TransferHostResponse, error)
	RegisterTrack(context.Context, *room.RegisterTrackParams) (room.Track, error)
	GetTrack(context.Context, string) (room.Track, error)
	RemoveTrack(context.Context, string) error
	GetRoomState(context.Context, string) (room.Room, error)
	Now() time.Time
}

type iConnRepo interface {
	Add(connection.Conn) error
	Remove(connID string) error
}

type controller struct {
	roomService iRoomService
	connRepo    iConnRepo
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsmux       *wsrouter.WSRouter
	policy      protocol.SyncPolicyPayload
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewController(roomService iRoomService, connRepo iConnRepo, policy protocol.SyncPolicyPayload, m *metrics.Metrics, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		connRepo:    connRepo,
		validate:    validator.NewValidator(),
		policy:      policy,
		metrics:     m,
		logger:      logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
