package playersync

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/musicsync/server/pkg/syncpolicy"
)

// SendFunc delivers one heartbeat carrying the host's live position.
type SendFunc func(ctx context.Context, position float64) error

type Heartbeater struct {
	player   Player
	send     SendFunc
	interval time.Duration
	clock    clock.Clock
	onError  func(error)
}

type HeartbeaterConfig struct {
	// Interval defaults to syncpolicy.HeartbeatInterval.
	Interval time.Duration
	Clock    clock.Clock
	// OnError is called for failed sends; the loop keeps running.
	OnError func(error)
}

func NewHeartbeater(player Player, send SendFunc, cfg *HeartbeaterConfig) *Heartbeater {
	h := &Heartbeater{
		player:   player,
		send:     send,
		interval: syncpolicy.HeartbeatInterval,
		clock:    clock.New(),
		onError:  func(error) {},
	}
	if cfg != nil {
		if cfg.Interval > 0 {
			h.interval = cfg.Interval
		}
		if cfg.Clock != nil {
			h.clock = cfg.Clock
		}
		if cfg.OnError != nil {
			h.onError = cfg.OnError
		}
	}

	return h
}

// Run sends a heartbeat every interval until ctx is done.
func (h *Heartbeater) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.send(ctx, syncpolicy.ClampPosition(h.player.Position())); err != nil {
				h.onError(err)
			}
		}
	}
}
