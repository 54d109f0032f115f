package peer

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotOpen = errors.New("chat channel not open")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Error records which operation on which peer failed.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
