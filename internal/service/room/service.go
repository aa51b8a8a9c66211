package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/musicsync/server/internal/repository/connection"
	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/internal/repository/track"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomAlreadyExists   = errors.New("room already exists")
	ErrUnauthorizedCommand = errors.New("sender is not the room host")
	ErrMemberNotFound      = errors.New("member not found")
	ErrNotInRoom           = errors.New("connection is not in a room")
	ErrTrackNotFound       = errors.New("track not found")
	ErrTrackAlreadyExists  = errors.New("track already exists")
)

type iRoomRepo interface {
	Create(context.Context, *room.CreateParams) error
	Get(context.Context, string) (room.Room, error)
	Update(context.Context, string, func(*room.Room) error) error
	DeleteIf(context.Context, string, func(*room.Room) bool) (bool, error)
	ListIDs(context.Context) []string
}

type iConnRepo interface {
	GetSession(connID string) (connection.Session, error)
	SetSession(connID string, session connection.Session) error
	Send(ctx context.Context, connIDs []string, msg any) error
}

type iTrackRepo interface {
	SetTrack(context.Context, *track.SetTrackParams) error
	GetTrack(context.Context, string) (track.Track, error)
	RemoveTrack(context.Context, string) error
}

type Config struct {
	// RoomTTL is how long an empty room survives before it is reaped. Zero keeps rooms forever.
	RoomTTL time.Duration
	Clock   clock.Clock
}

type service struct {
	roomRepo  iRoomRepo
	connRepo  iConnRepo
	trackRepo iTrackRepo
	clock     clock.Clock
	roomTTL   time.Duration
	logger    *slog.Logger
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, trackRepo iTrackRepo, cfg *Config, logger *slog.Logger) *service {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}

	return &service{
		roomRepo:  roomRepo,
		connRepo:  connRepo,
		trackRepo: trackRepo,
		clock:     c,
		roomTTL:   cfg.RoomTTL,
		logger:    logger,
	}
}

// Now is the server clock used for snapshots and serverTime fields.
func (s service) Now() time.Time {
	return s.clock.Now()
}
