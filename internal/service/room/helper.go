package room

import (
	"context"
	"errors"

	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
	"golang.org/x/exp/maps"
)

func (s service) mapRepoErr(err error) error {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, room.ErrRoomAlreadyExists):
		return ErrRoomAlreadyExists
	default:
		return err
	}
}

// broadcast enqueues out for every member of r except the listed connections.
// Callers hold the room lock, which keeps per-room event order serial.
func (s service) broadcast(ctx context.Context, r *room.Room, out *protocol.Output, except ...string) {
	connIDs := maps.Keys(r.Members)
	if len(except) > 0 {
		filtered := connIDs[:0]
		for _, id := range connIDs {
			skip := false
			for _, e := range except {
				if id == e {
					skip = true
					break
				}
			}
			if !skip {
				filtered = append(filtered, id)
			}
		}
		connIDs = filtered
	}

	if err := s.connRepo.Send(ctx, connIDs, out); err != nil {
		s.logger.WarnContext(ctx, "failed to broadcast", "type", out.Type, "room_id", r.ID, "error", err)
	}
}

func (s service) unicast(ctx context.Context, connID string, out *protocol.Output) {
	if err := s.connRepo.Send(ctx, []string{connID}, out); err != nil {
		s.logger.WarnContext(ctx, "failed to send", "type", out.Type, "conn_id", connID, "error", err)
	}
}

func (s service) snapshot(r *room.Room) syncpolicy.Snapshot {
	return syncpolicy.Snapshot{
		IsPlaying: r.Player.IsPlaying,
		Position:  r.Player.CurrentTime,
		Rate:      r.Player.PlaybackRate,
		UpdatedAt: r.Player.UpdatedAt,
	}
}

func (s service) resyncPayload(r *room.Room) protocol.ResyncPayload {
	now := syncpolicy.Monotonic(r.Player.UpdatedAt, s.clock.Now())

	return protocol.ResyncPayload{
		PlaybackTime: syncpolicy.EstimatePosition(s.snapshot(r), now),
		IsPlaying:    r.Player.IsPlaying,
		PlaybackRate: r.Player.PlaybackRate,
		TrackRef:     r.TrackRef,
		TrackURL:     r.TrackURL,
		ServerTime:   now.UnixMilli(),
	}
}

func (s service) hostUserID(r *room.Room) string {
	if m, ok := r.Members[r.HostConnID]; ok {
		return m.UserID
	}

	return ""
}
