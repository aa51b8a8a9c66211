package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/musicsync/server/internal/repository/connection"
	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
)

type CreateRoomParams struct {
	ConnID string
	UserID string
	RoomID string
}

type CreateRoomResponse struct {
	RoomID string
}

// CreateRoom registers a new room with the sender as host. A connection that
// is already in another room leaves it first.
func (s service) CreateRoom(ctx context.Context, params *CreateRoomParams) (CreateRoomResponse, error) {
	now := s.clock.Now()

	if err := s.roomRepo.Create(ctx, &room.CreateParams{
		Room: room.Room{
			ID:         params.RoomID,
			HostConnID: params.ConnID,
			Player: room.Player{
				IsPlaying:    false,
				CurrentTime:  0,
				PlaybackRate: syncpolicy.DefaultRate,
				UpdatedAt:    now,
			},
			Members: map[string]room.Member{
				params.ConnID: {
					ConnID:   params.ConnID,
					UserID:   params.UserID,
					Role:     room.RoleHost,
					JoinedAt: now,
				},
			},
			CreatedAt: now,
		},
	}); err != nil {
		return CreateRoomResponse{}, fmt.Errorf("failed to create room: %w", s.mapRepoErr(err))
	}

	if err := s.leavePrevious(ctx, params.ConnID, params.RoomID); err != nil {
		s.logger.WarnContext(ctx, "failed to leave previous room", "error", err)
	}

	if err := s.connRepo.SetSession(params.ConnID, connection.Session{
		RoomID: params.RoomID,
		UserID: params.UserID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to set session", "error", err)
	}

	if err := s.roomRepo.Update(ctx, params.RoomID, func(r *room.Room) error {
		s.unicast(ctx, params.ConnID, &protocol.Output{
			Type:    protocol.TypeRoomCreated,
			Payload: protocol.RoomCreatedPayload{RoomID: params.RoomID},
		})
		return nil
	}); err != nil {
		return CreateRoomResponse{}, fmt.Errorf("failed to notify creator: %w", s.mapRepoErr(err))
	}

	s.logger.InfoContext(ctx, "room created", "room_id", params.RoomID, "user_id", params.UserID)

	return CreateRoomResponse{RoomID: params.RoomID}, nil
}

type JoinRoomParams struct {
	ConnID string
	UserID string
	RoomID string
	Role   string
}

type JoinRoomResponse struct {
	Role   string
	Resync protocol.ResyncPayload
}

// JoinRoom subscribes the connection to an existing room and re-anchors it
// with a resync computed from the extrapolated snapshot. A host claim is
// honoured only while the room has no host.
func (s service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	var resp JoinRoomResponse

	err := s.roomRepo.Update(ctx, params.RoomID, func(r *room.Room) error {
		role := room.RoleGuest
		if params.Role == room.RoleHost && (r.HostConnID == "" || r.HostConnID == params.ConnID) {
			role = room.RoleHost
			r.HostConnID = params.ConnID
		} else if r.HostConnID == params.ConnID {
			// a rejoin from the current host keeps authority
			role = room.RoleHost
		}

		joinedAt := s.clock.Now()
		if existing, ok := r.Members[params.ConnID]; ok {
			joinedAt = existing.JoinedAt
		}
		r.Members[params.ConnID] = room.Member{
			ConnID:   params.ConnID,
			UserID:   params.UserID,
			Role:     role,
			JoinedAt: joinedAt,
		}
		r.EmptySince = time.Time{}

		resp.Role = role
		resp.Resync = s.resyncPayload(r)

		s.unicast(ctx, params.ConnID, &protocol.Output{
			Type:    protocol.TypeResync,
			Payload: resp.Resync,
		})
		s.broadcast(ctx, r, &protocol.Output{
			Type: protocol.TypeRoomJoined,
			Payload: protocol.RoomJoinedPayload{
				RoomID: params.RoomID,
				UserID: params.UserID,
				Role:   role,
			},
		})

		return nil
	})
	if err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to join room: %w", s.mapRepoErr(err))
	}

	if err := s.leavePrevious(ctx, params.ConnID, params.RoomID); err != nil {
		s.logger.WarnContext(ctx, "failed to leave previous room", "error", err)
	}

	if err := s.connRepo.SetSession(params.ConnID, connection.Session{
		RoomID: params.RoomID,
		UserID: params.UserID,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to set session", "error", err)
	}

	s.logger.InfoContext(ctx, "member joined room",
		"room_id", params.RoomID,
		"user_id", params.UserID,
		"requested_role", params.Role,
		"role", resp.Role,
		"playback_time", resp.Resync.PlaybackTime,
	)

	return resp, nil
}

func (s service) leavePrevious(ctx context.Context, connID, nextRoomID string) error {
	session, err := s.connRepo.GetSession(connID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil
		}
		return err
	}

	if session.RoomID == "" || session.RoomID == nextRoomID {
		return nil
	}

	_, err = s.removeMember(ctx, session.RoomID, connID)
	return err
}

type LeaveRoomParams struct {
	ConnID string
	// RoomID is optional; when set it must match the room the connection is in.
	RoomID string
}

type LeaveRoomResponse struct {
	RoomID  string
	WasHost bool
}

func (s service) LeaveRoom(ctx context.Context, params *LeaveRoomParams) (LeaveRoomResponse, error) {
	session, err := s.connRepo.GetSession(params.ConnID)
	if err != nil {
		return LeaveRoomResponse{}, fmt.Errorf("failed to get session: %w", err)
	}

	if session.RoomID == "" || (params.RoomID != "" && params.RoomID != session.RoomID) {
		return LeaveRoomResponse{}, ErrNotInRoom
	}

	wasHost, err := s.removeMember(ctx, session.RoomID, params.ConnID)
	if err != nil {
		return LeaveRoomResponse{}, fmt.Errorf("failed to remove member: %w", err)
	}

	if err := s.connRepo.SetSession(params.ConnID, connection.Session{}); err != nil {
		s.logger.WarnContext(ctx, "failed to reset session", "error", err)
	}

	return LeaveRoomResponse{RoomID: session.RoomID, WasHost: wasHost}, nil
}

type DisconnectMemberParams struct {
	ConnID string
}

type DisconnectMemberResponse struct {
	RoomID  string
	WasHost bool
}

// DisconnectMember removes a closed connection from its room. Playback is
// left untouched; host authority held by the connection is cleared.
func (s service) DisconnectMember(ctx context.Context, params *DisconnectMemberParams) (DisconnectMemberResponse, error) {
	session, err := s.connRepo.GetSession(params.ConnID)
	if err != nil {
		return DisconnectMemberResponse{}, fmt.Errorf("failed to get session: %w", err)
	}

	if session.RoomID == "" {
		return DisconnectMemberResponse{}, nil
	}

	wasHost, err := s.removeMember(ctx, session.RoomID, params.ConnID)
	if err != nil {
		return DisconnectMemberResponse{}, fmt.Errorf("failed to remove member: %w", err)
	}

	s.logger.InfoContext(ctx, "member disconnected", "room_id", session.RoomID, "user_id", session.UserID, "was_host", wasHost)

	return DisconnectMemberResponse{RoomID: session.RoomID, WasHost: wasHost}, nil
}

func (s service) removeMember(ctx context.Context, roomID, connID string) (bool, error) {
	var wasHost bool

	err := s.roomRepo.Update(ctx, roomID, func(r *room.Room) error {
		member, ok := r.Members[connID]
		if !ok {
			return ErrMemberNotFound
		}
		delete(r.Members, connID)

		if len(r.Members) == 0 {
			r.EmptySince = s.clock.Now()
		}

		s.broadcast(ctx, r, &protocol.Output{
			Type: protocol.TypeMemberLeft,
			Payload: protocol.MemberLeftPayload{
				RoomID: roomID,
				UserID: member.UserID,
			},
		})

		if r.IsHost(connID) {
			wasHost = true
			r.HostConnID = ""
			s.broadcast(ctx, r, &protocol.Output{
				Type: protocol.TypeHostChanged,
				Payload: protocol.HostChangedPayload{
					RoomID: roomID,
					UserID: "",
				},
			})
		}

		return nil
	})
	if err != nil {
		return false, s.mapRepoErr(err)
	}

	return wasHost, nil
}

// GetRoomState returns the room with its playback position extrapolated to now.
func (s service) GetRoomState(ctx context.Context, roomID string) (Room, error) {
	r, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		return Room{}, fmt.Errorf("failed to get room: %w", s.mapRepoErr(err))
	}

	now := syncpolicy.Monotonic(r.Player.UpdatedAt, s.clock.Now())

	members := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		members = append(members, Member{
			UserID:   m.UserID,
			Role:     m.Role,
			JoinedAt: m.JoinedAt.UnixMilli(),
		})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt < members[j].JoinedAt
	})

	return Room{
		RoomID:     r.ID,
		HostUserID: s.hostUserID(&r),
		TrackRef:   r.TrackRef,
		TrackURL:   r.TrackURL,
		Player: Player{
			IsPlaying:    r.Player.IsPlaying,
			CurrentTime:  syncpolicy.EstimatePosition(s.snapshot(&r), now),
			PlaybackRate: r.Player.PlaybackRate,
			UpdatedAt:    r.Player.UpdatedAt.UnixMilli(),
		},
		MemberList: members,
		ServerTime: now.UnixMilli(),
	}, nil
}
