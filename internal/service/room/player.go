package room

import (
	"context"
	"fmt"

	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
)

type UpdatePlayerParams struct {
	SenderID     string
	RoomID       string
	PlaybackTime float64
}

type UpdatePlayerResponse struct {
	Player Player
}

// updatePlayer applies a host command to the room snapshot and, when
// outType is set, broadcasts it to every member while the room is locked.
func (s service) updatePlayer(ctx context.Context, params *UpdatePlayerParams, isPlaying *bool, outType string) (UpdatePlayerResponse, error) {
	var resp UpdatePlayerResponse

	err := s.roomRepo.Update(ctx, params.RoomID, func(r *room.Room) error {
		if !r.IsHost(params.SenderID) {
			return ErrUnauthorizedCommand
		}

		position := syncpolicy.ClampPosition(params.PlaybackTime)
		r.Player.CurrentTime = position
		r.Player.UpdatedAt = syncpolicy.Monotonic(r.Player.UpdatedAt, s.clock.Now())
		if isPlaying != nil {
			r.Player.IsPlaying = *isPlaying
		}

		resp.Player = Player{
			IsPlaying:    r.Player.IsPlaying,
			CurrentTime:  r.Player.CurrentTime,
			PlaybackRate: r.Player.PlaybackRate,
			UpdatedAt:    r.Player.UpdatedAt.UnixMilli(),
		}

		if outType != "" {
			s.broadcast(ctx, r, &protocol.Output{
				Type:    outType,
				Payload: protocol.PlaybackPayload{PlaybackTime: position},
			})
		}

		return nil
	})
	if err != nil {
		return UpdatePlayerResponse{}, s.mapRepoErr(err)
	}

	return resp, nil
}

func (s service) Play(ctx context.Context, params *UpdatePlayerParams) (UpdatePlayerResponse, error) {
	isPlaying := true
	resp, err := s.updatePlayer(ctx, params, &isPlaying, protocol.TypeSyncPlay)
	if err != nil {
		return UpdatePlayerResponse{}, fmt.Errorf("failed to play: %w", err)
	}

	return resp, nil
}

func (s service) Pause(ctx context.Context, params *UpdatePlayerParams) (UpdatePlayerResponse, error) {
	isPlaying := false
	resp, err := s.updatePlayer(ctx, params, &isPlaying, protocol.TypeSyncPause)
	if err != nil {
		return UpdatePlayerResponse{}, fmt.Errorf("failed to pause: %w", err)
	}

	return resp, nil
}

func (s service) Seek(ctx context.Context, params *UpdatePlayerParams) (UpdatePlayerResponse, error) {
	resp, err := s.updatePlayer(ctx, params, nil, protocol.TypeSyncSeek)
	if err != nil {
		return UpdatePlayerResponse{}, fmt.Errorf("failed to seek: %w", err)
	}

	return resp, nil
}

// Heartbeat refreshes the snapshot baseline without notifying anyone; late
// joiners pick it up through resync.
func (s service) Heartbeat(ctx context.Context, params *UpdatePlayerParams) (UpdatePlayerResponse, error) {
	resp, err := s.updatePlayer(ctx, params, nil, "")
	if err != nil {
		return UpdatePlayerResponse{}, fmt.Errorf("failed to apply heartbeat: %w", err)
	}

	return resp, nil
}
