package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musicsync/server/internal/repository/track"
	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}

func (r repo) getTrackKey(ref string) string {
	return "track:" + ref
}

// SetTrack registers params.Ref once. The key is watched so a concurrent
// registration of the same ref makes this one fail with ErrTrackAlreadyExists.
func (r repo) SetTrack(ctx context.Context, params *track.SetTrackParams) error {
	trackKey := r.getTrackKey(params.Ref)

	err := r.rc.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, trackKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check if track exists: %w", err)
		}
		if exists > 0 {
			return track.ErrTrackAlreadyExists
		}

		pipe := tx.TxPipeline()
		pipe.HSet(ctx, trackKey, track.Track{
			URL:          params.URL,
			Name:         params.Name,
			RegisteredAt: params.RegisteredAt,
		})
		if r.expireDuration > 0 {
			pipe.Expire(ctx, trackKey, r.expireDuration)
		}

		return r.executePipe(ctx, pipe)
	}, trackKey)
	if err != nil {
		if errors.Is(err, track.ErrTrackAlreadyExists) || errors.Is(err, redis.TxFailedErr) {
			return track.ErrTrackAlreadyExists
		}
		return fmt.Errorf("failed to set track: %w", err)
	}

	return nil
}

func (r repo) GetTrack(ctx context.Context, ref string) (track.Track, error) {
	trackKey := r.getTrackKey(ref)

	res := r.rc.HGetAll(ctx, trackKey)
	if err := res.Err(); err != nil {
		return track.Track{}, fmt.Errorf("failed to get track: %w", err)
	}
	if len(res.Val()) == 0 {
		return track.Track{}, track.ErrTrackNotFound
	}

	var t track.Track
	if err := res.Scan(&t); err != nil {
		return track.Track{}, fmt.Errorf("failed to scan track: %w", err)
	}

	if r.expireDuration > 0 {
		r.rc.Expire(ctx, trackKey, r.expireDuration)
	}

	return t, nil
}

func (r repo) RemoveTrack(ctx context.Context, ref string) error {
	res, err := r.rc.Del(ctx, r.getTrackKey(ref)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove track: %w", err)
	}

	if res == 0 {
		return track.ErrTrackNotFound
	}

	return nil
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}
