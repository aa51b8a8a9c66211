package room

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/musicsync/server/internal/repository/room"
	"github.com/musicsync/server/internal/repository/track"
	"github.com/musicsync/server/pkg/protocol"
)

type RegisterTrackParams struct {
	Ref  string
	URL  string
	Name string
}

// RegisterTrack records a reference handed out by the upload service so that
// hosts can share it by ref.
func (s service) RegisterTrack(ctx context.Context, params *RegisterTrackParams) (Track, error) {
	if err := s.trackRepo.SetTrack(ctx, &track.SetTrackParams{
		Ref:          params.Ref,
		URL:          params.URL,
		Name:         params.Name,
		RegisteredAt: s.clock.Now().UnixMilli(),
	}); err != nil {
		if errors.Is(err, track.ErrTrackAlreadyExists) {
			return Track{}, ErrTrackAlreadyExists
		}
		return Track{}, fmt.Errorf("failed to set track: %w", err)
	}

	return Track{Ref: params.Ref, URL: params.URL, Name: params.Name}, nil
}

func (s service) GetTrack(ctx context.Context, ref string) (Track, error) {
	t, err := s.trackRepo.GetTrack(ctx, ref)
	if err != nil {
		if errors.Is(err, track.ErrTrackNotFound) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("failed to get track: %w", err)
	}

	return Track{Ref: ref, URL: t.URL, Name: t.Name}, nil
}

// resolveTrack turns a shared reference into a playable URL. Absolute
// http(s) URLs are used as-is and registered refs resolve through the
// registry. Any other ref is an opaque handle and resolves to "".
func (s service) resolveTrack(ctx context.Context, ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ref, nil
	}

	t, err := s.GetTrack(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			return "", nil
		}
		return "", err
	}

	return t.URL, nil
}

func (s service) RemoveTrack(ctx context.Context, ref string) error {
	if err := s.trackRepo.RemoveTrack(ctx, ref); err != nil {
		if errors.Is(err, track.ErrTrackNotFound) {
			return ErrTrackNotFound
		}
		return fmt.Errorf("failed to remove track: %w", err)
	}

	return nil
}

type ShareTrackParams struct {
	SenderID string
	RoomID   string
	TrackRef string
}

type ShareTrackResponse struct {
	TrackURL string
}

func (s service) ShareTrack(ctx context.Context, params *ShareTrackParams) (ShareTrackResponse, error) {
	// resolved before the room lock is taken
	trackURL, err := s.resolveTrack(ctx, params.TrackRef)
	if err != nil {
		return ShareTrackResponse{}, fmt.Errorf("failed to resolve track: %w", err)
	}

	if err := s.roomRepo.Update(ctx, params.RoomID, func(r *room.Room) error {
		if !r.IsHost(params.SenderID) {
			return ErrUnauthorizedCommand
		}

		r.TrackRef = params.TrackRef
		r.TrackURL = trackURL

		s.broadcast(ctx, r, &protocol.Output{
			Type: protocol.TypeTrackShared,
			Payload: protocol.TrackSharedPayload{
				TrackRef: params.TrackRef,
				TrackURL: trackURL,
			},
		}, params.SenderID)

		return nil
	}); err != nil {
		return ShareTrackResponse{}, fmt.Errorf("failed to share track: %w", s.mapRepoErr(err))
	}

	return ShareTrackResponse{TrackURL: trackURL}, nil
}
