package controller

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicsync/server/internal/metrics"
	connInmemory "github.com/musicsync/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/musicsync/server/internal/repository/room/inmemory"
	trackRedis "github.com/musicsync/server/internal/repository/track/redis"
	"github.com/musicsync/server/internal/service/room"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/syncpolicy"
)

type testServer struct {
	srv   *httptest.Server
	clock *clock.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	connRepo := connInmemory.NewRepo(logger)
	roomRepo := roomInmemory.NewRepo(logger)
	svc := room.NewService(roomRepo, connRepo, trackRedis.NewRepo(rc, time.Hour), &room.Config{Clock: mock}, logger)

	m := metrics.New()
	m.RegisterGauges(roomRepo.Len, connRepo.Len)

	c := NewController(svc, connRepo, protocol.SyncPolicyPayload{
		DriftThreshold:      syncpolicy.DefaultDriftThreshold,
		HeartbeatIntervalMs: syncpolicy.HeartbeatInterval.Milliseconds(),
	}, m, logger)
	srv := httptest.NewServer(c.GetMux())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, clock: mock}
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return &testClient{t: t, ws: ws}
}

func (tc *testClient) send(typ string, payload any) {
	tc.t.Helper()
	require.NoError(tc.t, tc.ws.WriteJSON(protocol.Output{Type: typ, Payload: payload}))
}

func (tc *testClient) sendRaw(data string) {
	tc.t.Helper()
	require.NoError(tc.t, tc.ws.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (tc *testClient) next() protocol.Message {
	tc.t.Helper()
	require.NoError(tc.t, tc.ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg protocol.Message
	require.NoError(tc.t, tc.ws.ReadJSON(&msg))
	return msg
}

func (tc *testClient) expect(typ string) protocol.Message {
	tc.t.Helper()
	msg := tc.next()
	require.Equal(tc.t, typ, msg.Type, "payload: %s", msg.Payload)
	return msg
}

// expectIdle proves nothing was queued for the client by round-tripping a ping.
func (tc *testClient) expectIdle() {
	tc.t.Helper()
	tc.send(protocol.TypePing, protocol.PingInput{ClientTime: 1})
	tc.expect(protocol.TypePong)
}

func payloadOf[T any](t *testing.T, msg protocol.Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func position(v float64) *float64 { return &v }

func TestRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t)
	guest := ts.dial(t)
	intruder := ts.dial(t)

	guest.send(protocol.TypeJoinRoom, protocol.JoinRoomInput{RoomID: "r1", UserID: "gus", Role: "guest"})
	errMsg := guest.expect(protocol.TypeRoomError)
	assert.Equal(t, "Room not found", payloadOf[protocol.RoomErrorPayload](t, errMsg).Message)

	host.send(protocol.TypeCreateRoom, protocol.CreateRoomInput{RoomID: "r1", UserID: "alice"})
	created := host.expect(protocol.TypeRoomCreated)
	assert.Equal(t, "r1", payloadOf[protocol.RoomCreatedPayload](t, created).RoomID)

	intruder.send(protocol.TypeCreateRoom, protocol.CreateRoomInput{RoomID: "r1", UserID: "mallory"})
	errMsg = intruder.expect(protocol.TypeRoomError)
	assert.Equal(t, "Room already exists", payloadOf[protocol.RoomErrorPayload](t, errMsg).Message)

	host.send(protocol.TypeHostPlay, protocol.PlaybackInput{RoomID: "r1", PlaybackTime: position(10)})
	host.expect(protocol.TypeSyncPlay)

	ts.clock.Add(4 * time.Second)

	guest.send(protocol.TypeJoinRoom, protocol.JoinRoomInput{RoomID: "r1", UserID: "gus", Role: "host"})
	resync := payloadOf[protocol.ResyncPayload](t, guest.expect(protocol.TypeResync))
	assert.InDelta(t, 14.0, resync.PlaybackTime, 1e-6)
	assert.True(t, resync.IsPlaying)

	joined := payloadOf[protocol.RoomJoinedPayload](t, guest.expect(protocol.TypeRoomJoined))
	assert.Equal(t, "guest", joined.Role)
	joined = payloadOf[protocol.RoomJoinedPayload](t, host.expect(protocol.TypeRoomJoined))
	assert.Equal(t, "gus", joined.UserID)

	guest.send(protocol.TypeHostSeek, protocol.PlaybackInput{RoomID: "r1", PlaybackTime: position(99)})
	guest.expectIdle()
	host.expectIdle()

	host.send(protocol.TypeHostPause, protocol.PlaybackInput{RoomID: "r1", PlaybackTime: position(20)})
	for _, c := range []*testClient{host, guest} {
		msg := c.expect(protocol.TypeSyncPause)
		assert.Equal(t, 20.0, payloadOf[protocol.PlaybackPayload](t, msg).PlaybackTime)
	}

	host.send(protocol.TypeShareTrack, protocol.ShareTrackInput{RoomID: "r1", TrackRef: "https://cdn.example.com/a.mp3"})
	shared := payloadOf[protocol.TrackSharedPayload](t, guest.expect(protocol.TypeTrackShared))
	assert.Equal(t, "https://cdn.example.com/a.mp3", shared.TrackURL)
	host.expectIdle()

	host.ws.Close()
	left := payloadOf[protocol.MemberLeftPayload](t, guest.expect(protocol.TypeMemberLeft))
	assert.Equal(t, "alice", left.UserID)
	changed := payloadOf[protocol.HostChangedPayload](t, guest.expect(protocol.TypeHostChanged))
	assert.Empty(t, changed.UserID)
}

func TestMalformedMessagesKeepConnection(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	c.sendRaw(`not json`)
	c.sendRaw(`{"type":"dance","payload":{}}`)
	c.sendRaw(`{"type":"host-play","payload":{"roomId":"r1"}}`)
	c.sendRaw(`{"type":"host-play","payload":{"roomId":"r1","playbackTime":-3}}`)
	c.sendRaw(`{"type":"join-room","payload":{"roomId":"r1","userId":"u","role":"admin"}}`)

	c.send(protocol.TypePing, protocol.PingInput{ClientTime: 1234})
	pong := payloadOf[protocol.PongPayload](t, c.expect(protocol.TypePong))
	assert.Equal(t, int64(1234), pong.ClientTime)
	assert.Equal(t, ts.clock.Now().UnixMilli(), pong.ServerTime)
}

func TestRESTRoutes(t *testing.T) {
	ts := newTestServer(t)
	client := ts.srv.Client()

	resp, err := client.Get(ts.srv.URL + "/api/v1/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.srv.URL + "/api/v1/sync-policy")
	require.NoError(t, err)
	var policyBody struct {
		Data protocol.SyncPolicyPayload `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&policyBody))
	resp.Body.Close()
	assert.Equal(t, 0.3, policyBody.Data.DriftThreshold)
	assert.Equal(t, int64(3000), policyBody.Data.HeartbeatIntervalMs)

	resp, err = client.Post(ts.srv.URL+"/api/v1/tracks", "application/json",
		strings.NewReader(`{"ref":"song-1","url":"https://cdn.example.com/song-1.mp3","name":"Song"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = client.Post(ts.srv.URL+"/api/v1/tracks", "application/json",
		strings.NewReader(`{"ref":"song-1","url":"https://cdn.example.com/other.mp3"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = client.Post(ts.srv.URL+"/api/v1/tracks", "application/json",
		strings.NewReader(`{"ref":"song-2","url":"not a url"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(ts.srv.URL + "/api/v1/tracks/song-1")
	require.NoError(t, err)
	var trackBody struct {
		Data room.Track `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trackBody))
	resp.Body.Close()
	assert.Equal(t, "https://cdn.example.com/song-1.mp3", trackBody.Data.URL)

	resp, err = client.Get(ts.srv.URL + "/api/v1/tracks/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/tracks/song-1", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(ts.srv.URL + "/api/v1/rooms/r1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	host := ts.dial(t)
	host.send(protocol.TypeCreateRoom, protocol.CreateRoomInput{RoomID: "r1", UserID: "alice"})
	host.expect(protocol.TypeRoomCreated)

	resp, err = client.Get(ts.srv.URL + "/api/v1/rooms/r1")
	require.NoError(t, err)
	var roomBody struct {
		Data room.Room `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roomBody))
	resp.Body.Close()
	assert.Equal(t, "alice", roomBody.Data.HostUserID)
	require.Len(t, roomBody.Data.MemberList, 1)

	resp, err = client.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "musicsync_rooms 1")
	assert.Contains(t, string(body), `musicsync_ws_messages_total{result="ok",type="create-room"} 1`)
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "unauthorized", dropReason(room.ErrUnauthorizedCommand))
	assert.Equal(t, "room_not_found", dropReason(room.ErrRoomNotFound))
	assert.Equal(t, "error", dropReason(io.EOF))
}
