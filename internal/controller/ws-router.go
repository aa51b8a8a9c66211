package controller

import (
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New(c.validate.Struct)
	mux.Use(
		c.wsRequestIDWSMw(),
		c.loggerWSMw(),
		c.metricsWSMw(),
	)

	// room
	wsrouter.Handle(mux, protocol.TypeCreateRoom, c.handleCreateRoom)
	wsrouter.Handle(mux, protocol.TypeJoinRoom, c.handleJoinRoom)
	wsrouter.Handle(mux, protocol.TypeLeaveRoom, c.handleLeaveRoom)

	// player
	wsrouter.Handle(mux, protocol.TypeHostPlay, c.playbackHandler(c.roomService.Play))
	wsrouter.Handle(mux, protocol.TypeHostPause, c.playbackHandler(c.roomService.Pause))
	wsrouter.Handle(mux, protocol.TypeHostSeek, c.playbackHandler(c.roomService.Seek))
	wsrouter.Handle(mux, protocol.TypeHeartbeat, c.playbackHandler(c.roomService.Heartbeat))

	// track
	wsrouter.Handle(mux, protocol.TypeShareTrack, c.handleShareTrack)

	// member
	wsrouter.Handle(mux, protocol.TypeTransferHost, c.handleTransferHost)

	wsrouter.Handle(mux, protocol.TypePing, c.handlePing)

	return mux
}
