// Package syncpolicy holds the rules shared by the server and by receivers:
// how an authoritative position is extrapolated from a snapshot and when a
// receiver should re-seek instead of tolerating drift.
package syncpolicy

import (
	"math"
	"time"
)

const (
	// DefaultDriftThreshold is the largest local/authoritative difference, in
	// seconds, a receiver tolerates on resync without seeking.
	DefaultDriftThreshold = 0.3
	// HeartbeatInterval is how often a controlling host reports its position.
	HeartbeatInterval = 3 * time.Second
	DefaultRate       = 1.0
)

type Snapshot struct {
	IsPlaying bool
	Position  float64
	Rate      float64
	UpdatedAt time.Time
}

// EstimatePosition returns where playback should be at now.
func EstimatePosition(s Snapshot, now time.Time) float64 {
	if !s.IsPlaying {
		return ClampPosition(s.Position)
	}

	rate := s.Rate
	if rate <= 0 {
		rate = DefaultRate
	}

	elapsed := now.Sub(s.UpdatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return ClampPosition(s.Position + elapsed*rate)
}

func ShouldSeek(local, authoritative, threshold float64) bool {
	return math.Abs(local-authoritative) > threshold
}

func ClampPosition(position float64) float64 {
	if position < 0 || math.IsNaN(position) {
		return 0
	}

	return position
}

// Monotonic returns now, or last if the clock went backwards.
func Monotonic(last, now time.Time) time.Time {
	if now.Before(last) {
		return last
	}

	return now
}
