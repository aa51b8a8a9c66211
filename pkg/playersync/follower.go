// Package playersync applies server sync events to a local audio player and
// reports the host's position back on a fixed interval.
package playersync

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
)

// Player is the local media element. Position is in seconds.
type Player interface {
	Position() float64
	Seek(position float64) error
	Play() error
	Pause() error
	Load(url string) error
}

type FollowerConfig struct {
	// DriftThreshold defaults to syncpolicy.DefaultDriftThreshold.
	DriftThreshold float64
	Clock          clock.Clock
}

type Follower struct {
	player    Player
	threshold float64
	clock     clock.Clock

	mu        sync.Mutex
	offset    time.Duration
	hasOffset bool
	trackURL  string
}

func NewFollower(player Player, cfg *FollowerConfig) *Follower {
	f := &Follower{
		player:    player,
		threshold: syncpolicy.DefaultDriftThreshold,
		clock:     clock.New(),
	}
	if cfg != nil {
		if cfg.DriftThreshold > 0 {
			f.threshold = cfg.DriftThreshold
		}
		if cfg.Clock != nil {
			f.clock = cfg.Clock
		}
	}

	return f
}

// Apply handles one server event. Types that carry no playback state are
// ignored.
func (f *Follower) Apply(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeSyncPlay, protocol.TypeSyncPause, protocol.TypeSyncSeek:
		var p protocol.PlaybackPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s: %w", msg.Type, err)
		}
		return f.ApplySync(msg.Type, p)
	case protocol.TypeResync:
		var p protocol.ResyncPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode resync: %w", err)
		}
		_, err := f.ApplyResync(p)
		return err
	case protocol.TypeTrackShared:
		var p protocol.TrackSharedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode track-shared: %w", err)
		}
		return f.ApplyTrack(p)
	case protocol.TypePong:
		var p protocol.PongPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode pong: %w", err)
		}
		f.ObservePong(p)
		return nil
	default:
		return nil
	}
}

// ApplySync hard-syncs: the player always seeks, then takes the play state
// implied by the event type.
func (f *Follower) ApplySync(typ string, p protocol.PlaybackPayload) error {
	if err := f.player.Seek(syncpolicy.ClampPosition(p.PlaybackTime)); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	switch typ {
	case protocol.TypeSyncPlay:
		return f.player.Play()
	case protocol.TypeSyncPause:
		return f.player.Pause()
	default:
		return nil
	}
}

// ApplyResync re-anchors the player, seeking only when local drift exceeds
// the threshold. It reports whether a seek happened.
func (f *Follower) ApplyResync(p protocol.ResyncPayload) (bool, error) {
	if p.TrackURL != "" {
		if err := f.ApplyTrack(protocol.TrackSharedPayload{TrackRef: p.TrackRef, TrackURL: p.TrackURL}); err != nil {
			return false, err
		}
	}

	target := f.authoritativePosition(p)

	seeked := false
	if syncpolicy.ShouldSeek(f.player.Position(), target, f.threshold) {
		if err := f.player.Seek(target); err != nil {
			return false, fmt.Errorf("failed to seek: %w", err)
		}
		seeked = true
	}

	if p.IsPlaying {
		return seeked, f.player.Play()
	}

	return seeked, f.player.Pause()
}

// authoritativePosition is the resync position as sent. Once a pong has
// measured the server clock offset, a playing resync is also advanced by the
// time it spent in flight.
func (f *Follower) authoritativePosition(p protocol.ResyncPayload) float64 {
	f.mu.Lock()
	offset, hasOffset := f.offset, f.hasOffset
	f.mu.Unlock()

	if !hasOffset || !p.IsPlaying || p.ServerTime == 0 {
		return syncpolicy.ClampPosition(p.PlaybackTime)
	}

	return syncpolicy.EstimatePosition(syncpolicy.Snapshot{
		IsPlaying: true,
		Position:  p.PlaybackTime,
		Rate:      p.PlaybackRate,
		UpdatedAt: time.UnixMilli(p.ServerTime),
	}, f.clock.Now().Add(offset))
}

// ApplyTrack loads the shared track unless it is already loaded.
func (f *Follower) ApplyTrack(p protocol.TrackSharedPayload) error {
	url := p.TrackURL
	if url == "" {
		url = p.TrackRef
	}

	f.mu.Lock()
	same := url == f.trackURL
	f.mu.Unlock()
	if same {
		return nil
	}

	if err := f.player.Load(url); err != nil {
		return fmt.Errorf("failed to load track: %w", err)
	}

	f.mu.Lock()
	f.trackURL = url
	f.mu.Unlock()

	return nil
}

// ObservePong updates the estimated server clock offset from a ping round
// trip, assuming symmetric latency.
func (f *Follower) ObservePong(p protocol.PongPayload) {
	now := f.clock.Now()
	sent := time.UnixMilli(p.ClientTime)
	if p.ClientTime == 0 || sent.After(now) {
		return
	}

	midpoint := sent.Add(now.Sub(sent) / 2)
	offset := time.UnixMilli(p.ServerTime).Sub(midpoint)

	f.mu.Lock()
	f.offset = offset
	f.hasOffset = true
	f.mu.Unlock()
}

func (f *Follower) Offset() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.offset
}
