package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicsync/server/pkg/protocol"
)

type fakePlayer struct {
	mu       sync.Mutex
	position float64
	playing  bool
	seeks    []float64
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

func (p *fakePlayer) Load(string) error { return nil }

func (p *fakePlayer) state() (float64, bool, []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, p.playing, append([]float64(nil), p.seeks...)
}

// scriptedServer replies to each inbound message with whatever reply returns
// and records what it received.
func scriptedServer(t *testing.T, reply func(msg protocol.Message) []protocol.Output) (string, <-chan protocol.Message) {
	t.Helper()

	received := make(chan protocol.Message, 64)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			var msg protocol.Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			for _, out := range reply(msg) {
				if err := ws.WriteJSON(out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), received
}

func waitFor(t *testing.T, c *Client, typ string) protocol.Message {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-c.Events():
			require.True(t, ok, "client closed before %s", typ)
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for "+typ)
		}
	}
}

func testConfig(mock *clock.Mock) *Config {
	return &Config{
		Clock:  mock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestGuestFollowsRoom(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	url, _ := scriptedServer(t, func(msg protocol.Message) []protocol.Output {
		if msg.Type != protocol.TypeJoinRoom {
			return nil
		}
		return []protocol.Output{
			{Type: protocol.TypeResync, Payload: protocol.ResyncPayload{
				PlaybackTime: 10,
				IsPlaying:    true,
				PlaybackRate: 1,
				ServerTime:   mock.Now().UnixMilli(),
			}},
			{Type: protocol.TypeRoomJoined, Payload: protocol.RoomJoinedPayload{RoomID: "r1", UserID: "gus", Role: protocol.RoleGuest}},
			{Type: protocol.TypeSyncPause, Payload: protocol.PlaybackPayload{PlaybackTime: 20}},
		}
	})

	player := &fakePlayer{}
	c, err := Dial(context.Background(), url, player, testConfig(mock))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.JoinRoom("r1", "gus", protocol.RoleGuest))
	waitFor(t, c, protocol.TypeSyncPause)

	position, playing, seeks := player.state()
	assert.Equal(t, []float64{10, 20}, seeks)
	assert.Equal(t, 20.0, position)
	assert.False(t, playing)
	assert.Equal(t, protocol.RoleGuest, c.Role())

	assert.ErrorIs(t, c.Play(), ErrNotHost)
	assert.ErrorIs(t, c.ShareTrack("x"), ErrNotHost)
}

func TestHostSendsHeartbeats(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	url, received := scriptedServer(t, func(msg protocol.Message) []protocol.Output {
		switch msg.Type {
		case protocol.TypeCreateRoom:
			return []protocol.Output{{Type: protocol.TypeRoomCreated, Payload: protocol.RoomCreatedPayload{RoomID: "r1"}}}
		case protocol.TypeHostPlay:
			// the host's own echo must not move its player
			return []protocol.Output{{Type: protocol.TypeSyncPlay, Payload: protocol.PlaybackPayload{PlaybackTime: 999}}}
		}
		return nil
	})

	player := &fakePlayer{position: 4}
	c, err := Dial(context.Background(), url, player, testConfig(mock))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateRoom("r1", "alice"))
	waitFor(t, c, protocol.TypeRoomCreated)
	assert.Equal(t, protocol.RoleHost, c.Role())

	require.NoError(t, c.Play())
	waitFor(t, c, protocol.TypeSyncPlay)
	position, playing, _ := player.state()
	assert.Equal(t, 4.0, position)
	assert.True(t, playing)

	var heartbeat protocol.PlaybackInput
	assert.Eventually(t, func() bool {
		mock.Add(3 * time.Second)
		for {
			select {
			case msg := <-received:
				if msg.Type == protocol.TypeHeartbeat {
					return json.Unmarshal(msg.Payload, &heartbeat) == nil
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)

	require.NotNil(t, heartbeat.PlaybackTime)
	assert.Equal(t, "r1", heartbeat.RoomID)
	assert.Equal(t, 4.0, *heartbeat.PlaybackTime)
}

func TestHostChangedDemotes(t *testing.T) {
	url, _ := scriptedServer(t, func(msg protocol.Message) []protocol.Output {
		if msg.Type != protocol.TypeCreateRoom {
			return nil
		}
		return []protocol.Output{
			{Type: protocol.TypeRoomCreated, Payload: protocol.RoomCreatedPayload{RoomID: "r1"}},
			{Type: protocol.TypeHostChanged, Payload: protocol.HostChangedPayload{RoomID: "r1", UserID: "bob"}},
		}
	})

	c, err := Dial(context.Background(), url, &fakePlayer{}, testConfig(clock.NewMock()))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateRoom("r1", "alice"))
	waitFor(t, c, protocol.TypeHostChanged)

	assert.Equal(t, protocol.RoleGuest, c.Role())
	assert.ErrorIs(t, c.Seek(3), ErrNotHost)
}

func TestFetchSyncPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync-policy", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"driftThreshold":0.3,"heartbeatIntervalMs":3000}}`))
	}))
	defer srv.Close()

	policy, err := FetchSyncPolicy(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, 0.3, policy.DriftThreshold)
	assert.Equal(t, int64(3000), policy.HeartbeatIntervalMs)
}
