package room

import (
	"context"
	"time"

	"github.com/musicsync/server/internal/repository/room"
)

// ReapEmptyRooms deletes rooms that have had no members for longer than the
// configured TTL and returns how many were removed.
func (s service) ReapEmptyRooms(ctx context.Context) int {
	if s.roomTTL <= 0 {
		return 0
	}

	now := s.clock.Now()
	reaped := 0
	for _, id := range s.roomRepo.ListIDs(ctx) {
		deleted, err := s.roomRepo.DeleteIf(ctx, id, func(r *room.Room) bool {
			return len(r.Members) == 0 && !r.EmptySince.IsZero() && now.Sub(r.EmptySince) >= s.roomTTL
		})
		if err != nil {
			continue
		}
		if deleted {
			reaped++
			s.logger.InfoContext(ctx, "room reaped", "room_id", id)
		}
	}

	return reaped
}

// RunReaper calls ReapEmptyRooms every interval until ctx is done.
func (s service) RunReaper(ctx context.Context, interval time.Duration) {
	if s.roomTTL <= 0 || interval <= 0 {
		return
	}

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapEmptyRooms(ctx)
		}
	}
}
