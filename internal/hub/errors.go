package hub

import (
	"errors"

	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/room"
)

var (
	ErrNotJoined      = errors.New("join a room first")
	ErrAlreadyJoined  = errors.New("connection already joined a room")
	ErrMissingUserID  = errors.New("userId is required")
	ErrClientClosed   = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
	errHandlerPanic   = errors.New("internal error while handling message")
)

// Kind groups errors by how the router recovers from them.
type Kind string

const (
	KindProtocol      Kind = "protocol"
	KindAuthorization Kind = "authorization"
	KindCapacity      Kind = "capacity"
	KindNotFound      Kind = "not_found"
	KindTransport     Kind = "transport"
)

// Classify maps err onto a Kind. Anything unrecognised is a protocol error.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, room.ErrNotAuthorized),
		errors.Is(err, room.ErrSelfKick):
		return KindAuthorization
	case errors.Is(err, room.ErrRoomFull),
		errors.Is(err, room.ErrRoomLocked),
		errors.Is(err, room.ErrDuplicateParticipant):
		return KindCapacity
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, room.ErrParticipantNotFound):
		return KindNotFound
	case errors.Is(err, ErrClientClosed),
		errors.Is(err, ErrSendBufferFull):
		return KindTransport
	default:
		return KindProtocol
	}
}

func errorMessage(err error) protocol.Error {
	e := protocol.Error{Message: err.Error(), Code: string(Classify(err))}
	if errors.Is(err, room.ErrDuplicateParticipant) {
		e.Reason = protocol.ReasonDuplicateParticipant
	}
	return e
}
