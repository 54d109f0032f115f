package room

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateParticipant = errors.New("participant already in room")
	ErrRoomFull             = errors.New("room is full")
	ErrRoomLocked           = errors.New("room is locked")
	ErrRoomNotFound         = errors.New("room does not exist")
	ErrNotAuthorized        = errors.New("only the host can do this")
	ErrSelfKick             = errors.New("host cannot kick themselves")
	ErrParticipantNotFound  = errors.New("participant not found in room")
)

// Error records the registry operation and room that failed.
type Error struct {
	Op     string
	RoomID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, roomID string, err error) *Error {
	return &Error{Op: op, RoomID: roomID, Err: err}
}
