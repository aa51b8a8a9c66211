// Package protocol defines the websocket envelope and the payloads exchanged
// between musicsync clients and the server.
package protocol

import "encoding/json"

// Client -> server message types.
const (
	TypeCreateRoom   = "create-room"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeHostPlay     = "host-play"
	TypeHostPause    = "host-pause"
	TypeHostSeek     = "host-seek"
	TypeHeartbeat    = "heartbeat"
	TypeShareTrack   = "share-track"
	TypeTransferHost = "transfer-host"
	TypePing         = "ping"
)

// Server -> client message types.
const (
	TypeRoomCreated = "room-created"
	TypeRoomError   = "room-error"
	TypeRoomJoined  = "room-joined"
	TypeResync      = "resync"
	TypeSyncPlay    = "sync-play"
	TypeSyncPause   = "sync-pause"
	TypeSyncSeek    = "sync-seek"
	TypeTrackShared = "track-shared"
	TypeHostChanged = "host-changed"
	TypeMemberLeft  = "member-left"
	TypePong        = "pong"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

const (
	ErrMessageRoomNotFound      = "Room not found"
	ErrMessageRoomAlreadyExists = "Room already exists"
)

// Message is an inbound envelope; Payload is decoded by the handler for Type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type CreateRoomInput struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"required,max=64"`
}

type JoinRoomInput struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"required,max=64"`
	Role   string `json:"role" validate:"required,oneof=host guest"`
}

type LeaveRoomInput struct {
	RoomID string `json:"roomId" validate:"max=64"`
}

// PlaybackInput is the payload of host-play, host-pause, host-seek and heartbeat.
type PlaybackInput struct {
	RoomID       string   `json:"roomId" validate:"required,max=64"`
	PlaybackTime *float64 `json:"playbackTime" validate:"required,gte=0"`
}

type ShareTrackInput struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	TrackRef string `json:"trackRef" validate:"required,max=2048"`
}

type TransferHostInput struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"required,max=64"`
}

type PingInput struct {
	ClientTime int64 `json:"clientTime"`
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type RoomErrorPayload struct {
	Message string `json:"message"`
}

type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type ResyncPayload struct {
	PlaybackTime float64 `json:"playbackTime"`
	IsPlaying    bool    `json:"isPlaying"`
	PlaybackRate float64 `json:"playbackRate"`
	TrackRef     string  `json:"trackRef"`
	TrackURL     string  `json:"trackUrl,omitempty"`
	// ServerTime is unix milliseconds at the moment PlaybackTime was computed.
	ServerTime int64 `json:"serverTime"`
}

// PlaybackPayload is the payload of sync-play, sync-pause and sync-seek.
type PlaybackPayload struct {
	PlaybackTime float64 `json:"playbackTime"`
}

type TrackSharedPayload struct {
	TrackRef string `json:"trackRef"`
	TrackURL string `json:"trackUrl,omitempty"`
}

type HostChangedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type MemberLeftPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PongPayload struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

// SyncPolicyPayload is served over REST so receivers use the server's tuning.
type SyncPolicyPayload struct {
	DriftThreshold      float64 `json:"driftThreshold"`
	HeartbeatIntervalMs int64   `json:"heartbeatIntervalMs"`
}
