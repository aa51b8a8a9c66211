// Package client is a websocket client for the room sync protocol. It keeps a
// local Player in step with the room through playersync and, while the
// client holds host authority, reports the player's position on a heartbeat.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/musicsync/server/pkg/playersync"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
)

const (
	writeWait       = 10 * time.Second
	eventBufferSize = 256
)

var (
	ErrClosed    = errors.New("client closed")
	ErrNotHost   = errors.New("client is not the room host")
	ErrNotInRoom = errors.New("client is not in a room")
)

type Config struct {
	DriftThreshold    float64
	HeartbeatInterval time.Duration
	Clock             clock.Clock
	Logger            *slog.Logger
	Dialer            *websocket.Dialer
}

type Client struct {
	ws          *websocket.Conn
	player      playersync.Player
	follower    *playersync.Follower
	clock       clock.Clock
	interval    time.Duration
	logger      *slog.Logger
	events      chan protocol.Message
	done        chan struct{}
	closeOnce   sync.Once
	writeMu     sync.Mutex
	mu          sync.Mutex
	userID      string
	roomID      string
	role        string
	stopBeating context.CancelFunc
}

// Dial connects to the server's websocket endpoint, for example
// ws://localhost:8080/api/v1/ws.
func Dial(ctx context.Context, url string, player playersync.Player, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = syncpolicy.HeartbeatInterval
	}

	c := &Client{
		ws:     ws,
		player: player,
		follower: playersync.NewFollower(player, &playersync.FollowerConfig{
			DriftThreshold: cfg.DriftThreshold,
			Clock:          clk,
		}),
		clock:    clk,
		interval: interval,
		logger:   logger,
		events:   make(chan protocol.Message, eventBufferSize),
		done:     make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Events yields every server message after it has been applied to the
// player. Messages are dropped when the buffer is full.
func (c *Client) Events() <-chan protocol.Message {
	return c.events
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.role
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.roomID
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setRole("")
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})

	return err
}

func (c *Client) send(typ string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(protocol.Output{Type: typ, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send %s: %w", typ, err)
	}

	return nil
}

func (c *Client) CreateRoom(roomID, userID string) error {
	c.mu.Lock()
	c.userID = userID
	c.roomID = roomID
	c.mu.Unlock()

	return c.send(protocol.TypeCreateRoom, protocol.CreateRoomInput{RoomID: roomID, UserID: userID})
}

func (c *Client) JoinRoom(roomID, userID, role string) error {
	c.mu.Lock()
	c.userID = userID
	c.roomID = roomID
	c.mu.Unlock()

	return c.send(protocol.TypeJoinRoom, protocol.JoinRoomInput{RoomID: roomID, UserID: userID, Role: role})
}

func (c *Client) LeaveRoom() error {
	roomID := c.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}

	c.setRole("")
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()

	return c.send(protocol.TypeLeaveRoom, protocol.LeaveRoomInput{RoomID: roomID})
}

func (c *Client) hostRoom() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.roomID == "" {
		return "", ErrNotInRoom
	}
	if c.role != protocol.RoleHost {
		return "", ErrNotHost
	}

	return c.roomID, nil
}

func (c *Client) sendPlayback(typ string, position float64) error {
	roomID, err := c.hostRoom()
	if err != nil {
		return err
	}

	position = syncpolicy.ClampPosition(position)
	return c.send(typ, protocol.PlaybackInput{RoomID: roomID, PlaybackTime: &position})
}

// Play starts the local player and tells the room to play from its position.
func (c *Client) Play() error {
	if _, err := c.hostRoom(); err != nil {
		return err
	}
	if err := c.player.Play(); err != nil {
		return fmt.Errorf("failed to play: %w", err)
	}

	return c.sendPlayback(protocol.TypeHostPlay, c.player.Position())
}

func (c *Client) Pause() error {
	if _, err := c.hostRoom(); err != nil {
		return err
	}
	if err := c.player.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}

	return c.sendPlayback(protocol.TypeHostPause, c.player.Position())
}

func (c *Client) Seek(position float64) error {
	if _, err := c.hostRoom(); err != nil {
		return err
	}
	if err := c.player.Seek(position); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	return c.sendPlayback(protocol.TypeHostSeek, position)
}

func (c *Client) ShareTrack(trackRef string) error {
	roomID, err := c.hostRoom()
	if err != nil {
		return err
	}

	return c.send(protocol.TypeShareTrack, protocol.ShareTrackInput{RoomID: roomID, TrackRef: trackRef})
}

func (c *Client) TransferHost(userID string) error {
	roomID, err := c.hostRoom()
	if err != nil {
		return err
	}

	return c.send(protocol.TypeTransferHost, protocol.TransferHostInput{RoomID: roomID, UserID: userID})
}

// Ping asks the server for its clock; the reply updates the follower's offset.
func (c *Client) Ping() error {
	return c.send(protocol.TypePing, protocol.PingInput{ClientTime: c.clock.Now().UnixMilli()})
}

func (c *Client) heartbeat(_ context.Context, position float64) error {
	return c.sendPlayback(protocol.TypeHeartbeat, position)
}

// setRole records the client's role and starts or stops the heartbeat loop.
func (c *Client) setRole(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role == role {
		return
	}
	c.role = role

	if c.stopBeating != nil {
		c.stopBeating()
		c.stopBeating = nil
	}

	if role == protocol.RoleHost {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopBeating = cancel
		h := playersync.NewHeartbeater(c.player, c.heartbeat, &playersync.HeartbeaterConfig{
			Interval: c.interval,
			Clock:    c.clock,
			OnError: func(err error) {
				c.logger.Debug("heartbeat failed", "error", err)
			},
		})
		go h.Run(ctx)
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.setRole("")
		close(c.done)
		close(c.events)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection closed", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to decode message", "error", err)
			continue
		}

		c.handle(msg)

		select {
		case c.events <- msg:
		default:
			c.logger.Warn("event dropped", "type", msg.Type)
		}
	}
}

func (c *Client) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeRoomCreated:
		c.setRole(protocol.RoleHost)
		return
	case protocol.TypeRoomJoined:
		var p protocol.RoomJoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil && p.UserID == c.userIDValue() {
			c.setRole(p.Role)
		}
		return
	case protocol.TypeHostChanged:
		var p protocol.HostChangedPayload
		if err := json.Unmarshal(msg.Payload, &p); err == nil {
			if p.UserID == c.userIDValue() {
				c.setRole(protocol.RoleHost)
			} else if c.Role() == protocol.RoleHost {
				c.setRole(protocol.RoleGuest)
			}
		}
		return
	case protocol.TypeRoomError:
		c.mu.Lock()
		if c.role == "" {
			c.roomID = ""
		}
		c.mu.Unlock()
		return
	}

	// the host is the source of sync events and does not follow its own echo
	if c.Role() == protocol.RoleHost && msg.Type != protocol.TypePong {
		return
	}

	if err := c.follower.Apply(msg); err != nil {
		c.logger.Warn("failed to apply event", "type", msg.Type, "error", err)
	}
}

func (c *Client) userIDValue() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userID
}

// FetchSyncPolicy reads the server's drift threshold and heartbeat interval
// from baseURL, for example http://localhost:8080.
func FetchSyncPolicy(ctx context.Context, hc *http.Client, baseURL string) (protocol.SyncPolicyPayload, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/api/v1/sync-policy", nil)
	if err != nil {
		return protocol.SyncPolicyPayload{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return protocol.SyncPolicyPayload{}, fmt.Errorf("failed to fetch sync policy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return protocol.SyncPolicyPayload{}, fmt.Errorf("failed to fetch sync policy: status %d", resp.StatusCode)
	}

	var body struct {
		Data protocol.SyncPolicyPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return protocol.SyncPolicyPayload{}, fmt.Errorf("failed to decode sync policy: %w", err)
	}

	return body.Data, nil
}
