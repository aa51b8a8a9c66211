package playersync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicsync/server/pkg/protocol"
)

type fakePlayer struct {
	mu       sync.Mutex
	position float64
	playing  bool
	seeks    []float64
	loads    []string
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Seek(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.seeks = append(p.seeks, position)
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) Load(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, url)
	return nil
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

func TestResyncDriftTolerance(t *testing.T) {
	tests := []struct {
		name      string
		local     float64
		remote    float64
		playing   bool
		wantSeeks []float64
	}{
		{name: "exact", local: 10, remote: 10, playing: true},
		{name: "slightly behind", local: 9.8, remote: 10, playing: true},
		{name: "slightly ahead", local: 10.29, remote: 10, playing: false},
		{name: "behind past threshold", local: 9.6, remote: 10, playing: true, wantSeeks: []float64{10}},
		{name: "ahead past threshold", local: 12, remote: 10, playing: false, wantSeeks: []float64{10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockClock()
			player := &fakePlayer{position: tt.local}
			f := NewFollower(player, &FollowerConfig{Clock: mock})

			seeked, err := f.ApplyResync(protocol.ResyncPayload{
				PlaybackTime: tt.remote,
				IsPlaying:    tt.playing,
				PlaybackRate: 1,
				ServerTime:   mock.Now().UnixMilli(),
			})
			require.NoError(t, err)

			assert.Equal(t, len(tt.wantSeeks) > 0, seeked)
			assert.Equal(t, tt.wantSeeks, player.seeks)
			assert.Equal(t, tt.playing, player.playing)

			// re-applying the same resync is a no-op
			seeked, err = f.ApplyResync(protocol.ResyncPayload{
				PlaybackTime: tt.remote,
				IsPlaying:    tt.playing,
				PlaybackRate: 1,
				ServerTime:   mock.Now().UnixMilli(),
			})
			require.NoError(t, err)
			assert.False(t, seeked)
			assert.Equal(t, tt.wantSeeks, player.seeks)
		})
	}
}

func TestResyncIgnoresClockSkewWithoutPong(t *testing.T) {
	mock := newMockClock()
	player := &fakePlayer{position: 10}
	f := NewFollower(player, &FollowerConfig{Clock: mock})

	// server clock is 5s behind and no ping has measured it
	seeked, err := f.ApplyResync(protocol.ResyncPayload{
		PlaybackTime: 10,
		IsPlaying:    true,
		PlaybackRate: 1,
		ServerTime:   mock.Now().Add(-5 * time.Second).UnixMilli(),
	})
	require.NoError(t, err)
	assert.False(t, seeked)
	assert.Empty(t, player.seeks)
	assert.True(t, player.playing)

	player.position = 9
	seeked, err = f.ApplyResync(protocol.ResyncPayload{
		PlaybackTime: 10,
		IsPlaying:    true,
		PlaybackRate: 1,
		ServerTime:   mock.Now().Add(-5 * time.Second).UnixMilli(),
	})
	require.NoError(t, err)
	assert.True(t, seeked)
	assert.Equal(t, []float64{10}, player.seeks)
}

func TestResyncAccountsForTransit(t *testing.T) {
	mock := newMockClock()
	player := &fakePlayer{position: 0}
	f := NewFollower(player, &FollowerConfig{Clock: mock})

	// clocks agree: the reply is stamped at the round trip midpoint
	sent := mock.Now()
	mock.Add(100 * time.Millisecond)
	f.ObservePong(protocol.PongPayload{
		ClientTime: sent.UnixMilli(),
		ServerTime: sent.Add(50 * time.Millisecond).UnixMilli(),
	})

	serverTime := mock.Now().UnixMilli()
	mock.Add(2 * time.Second)

	seeked, err := f.ApplyResync(protocol.ResyncPayload{
		PlaybackTime: 10,
		IsPlaying:    true,
		PlaybackRate: 1,
		ServerTime:   serverTime,
	})
	require.NoError(t, err)
	assert.True(t, seeked)
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 12.0, player.seeks[0], 1e-6)
}

func TestHardSyncAlwaysSeeks(t *testing.T) {
	tests := []struct {
		typ         string
		wantPlaying bool
	}{
		{typ: protocol.TypeSyncPlay, wantPlaying: true},
		{typ: protocol.TypeSyncPause, wantPlaying: false},
		{typ: protocol.TypeSyncSeek, wantPlaying: true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			player := &fakePlayer{position: 5, playing: true}
			f := NewFollower(player, nil)

			payload, err := json.Marshal(protocol.PlaybackPayload{PlaybackTime: 5.1})
			require.NoError(t, err)
			require.NoError(t, f.Apply(protocol.Message{Type: tt.typ, Payload: payload}))

			assert.Equal(t, []float64{5.1}, player.seeks, "hard sync seeks even within the threshold")
			assert.Equal(t, tt.wantPlaying, player.playing)
		})
	}
}

func TestTrackShared(t *testing.T) {
	player := &fakePlayer{}
	f := NewFollower(player, nil)

	require.NoError(t, f.ApplyTrack(protocol.TrackSharedPayload{TrackRef: "song-1", TrackURL: "https://cdn.example.com/1.mp3"}))
	require.NoError(t, f.ApplyTrack(protocol.TrackSharedPayload{TrackRef: "song-1", TrackURL: "https://cdn.example.com/1.mp3"}))

	_, err := f.ApplyResync(protocol.ResyncPayload{TrackRef: "song-2", TrackURL: "https://cdn.example.com/2.mp3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn.example.com/1.mp3", "https://cdn.example.com/2.mp3"}, player.loads)
}

func TestObservePong(t *testing.T) {
	mock := newMockClock()
	f := NewFollower(&fakePlayer{}, &FollowerConfig{Clock: mock})

	sent := mock.Now()
	mock.Add(200 * time.Millisecond)

	// server clock runs 1s ahead; the reply was stamped halfway through the trip
	f.ObservePong(protocol.PongPayload{
		ClientTime: sent.UnixMilli(),
		ServerTime: sent.Add(100*time.Millisecond + time.Second).UnixMilli(),
	})

	assert.Equal(t, time.Second, f.Offset())
}

func TestApplyIgnoresOtherEvents(t *testing.T) {
	player := &fakePlayer{}
	f := NewFollower(player, nil)

	assert.NoError(t, f.Apply(protocol.Message{Type: protocol.TypeRoomJoined, Payload: json.RawMessage(`{}`)}))
	assert.Error(t, f.Apply(protocol.Message{Type: protocol.TypeSyncSeek, Payload: json.RawMessage(`"x"`)}))
	assert.Empty(t, player.seeks)
}

func TestHeartbeater(t *testing.T) {
	mock := newMockClock()
	player := &fakePlayer{position: 5}
	sent := make(chan float64, 10)

	h := NewHeartbeater(player, func(ctx context.Context, position float64) error {
		sent <- position
		return nil
	}, &HeartbeaterConfig{Clock: mock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	var got float64
	assert.Eventually(t, func() bool {
		mock.Add(3 * time.Second)
		select {
		case got = <-sent:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 5.0, got)

	player.Seek(8)
	assert.Eventually(t, func() bool {
		mock.Add(3 * time.Second)
		select {
		case got = <-sent:
			return got == 8.0
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
