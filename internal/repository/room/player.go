package room

import "time"

type Player struct {
	IsPlaying    bool      `json:"is_playing"`
	CurrentTime  float64   `json:"current_time"`
	PlaybackRate float64   `json:"playback_rate"`
	UpdatedAt    time.Time `json:"updated_at"`
}
