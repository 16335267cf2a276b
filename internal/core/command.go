package core

import "github.com/vovakirdan/voicechat/internal/proto"

// commandKind describes what the engine loop should do.
type commandKind int

const (
	// Requests from the owner.
	cmdOpen commandKind = iota
	cmdClose
	cmdLoadRooms
	cmdLoadOlder
	cmdSend
	cmdDelete
	cmdView
	cmdRooms

	// Results posted back by background work.
	cmdSnapshot
	cmdOlderLoaded
	cmdRoomsLoaded
	cmdSent
	cmdDeleted
	cmdPush
	cmdResync
)

// command is the single message type of the engine loop.
type command struct {
	kind commandKind
	// gen ties results and push events to the conversation that was active when they started.
	gen      uint64
	external bool
	// resync marks a latest-page fetch issued after the push channel resumed.
	resync bool
	// detached marks a resync whose pages never reached the loaded history.
	detached bool

	roomID    string
	messageID string
	scope     string

	send     *outgoing
	message  proto.Message
	messages []proto.Message
	rooms    []proto.Room
	event    proto.PushEvent
	err      error

	reply chan reply
}

type reply struct {
	view  View
	rooms []proto.Room
	err   error
}
