package room

import (
	"context"
	"fmt"

	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/pkg/protocol"
)

type TransferHostParams struct {
	SenderID     string
	RoomID       string
	TargetUserID string
}

type TransferHostResponse struct {
	PromotedMember Member
}

// TransferHost hands host authority from the current host to another member.
func (s service) TransferHost(ctx context.Context, params *TransferHostParams) (TransferHostResponse, error) {
	var resp TransferHostResponse

	err := s.roomRepo.Update(ctx, params.RoomID, func(r *room.Room) error {
		if !r.IsHost(params.SenderID) {
			return ErrUnauthorizedCommand
		}

		target, ok := r.MemberByUserID(params.TargetUserID)
		if !ok {
			return ErrMemberNotFound
		}

		if target.ConnID == params.SenderID {
			resp.PromotedMember = Member{UserID: target.UserID, Role: target.Role, JoinedAt: target.JoinedAt.UnixMilli()}
			return nil
		}

		if prev, ok := r.Members[params.SenderID]; ok {
			prev.Role = room.RoleGuest
			r.Members[params.SenderID] = prev
		}
		target.Role = room.RoleHost
		r.Members[target.ConnID] = target
		r.HostConnID = target.ConnID

		resp.PromotedMember = Member{UserID: target.UserID, Role: target.Role, JoinedAt: target.JoinedAt.UnixMilli()}

		s.broadcast(ctx, r, &protocol.Output{
			Type: protocol.TypeHostChanged,
			Payload: protocol.HostChangedPayload{
				RoomID: params.RoomID,
				UserID: target.UserID,
			},
		})

		return nil
	})
	if err != nil {
		return TransferHostResponse{}, fmt.Errorf("failed to transfer host: %w", s.mapRepoErr(err))
	}

	s.logger.InfoContext(ctx, "host transferred", "room_id", params.RoomID, "user_id", params.TargetUserID)

	return resp, nil
}
