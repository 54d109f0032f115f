package protocol

import (
	"errors"
	"strings"
)

// MaxRoomIDLength bounds the room id segment of /ws/{roomID}.
const MaxRoomIDLength = 64

// ErrInvalidRoomID is returned by ValidateRoomID.
var ErrInvalidRoomID = errors.New("invalid room id")

// ValidateRoomID reports whether id, already trimmed, can be used as the
// single path segment naming a room.
func ValidateRoomID(id string) error {
	switch {
	case id == "":
		return errors.Join(ErrInvalidRoomID, errors.New("must not be empty"))
	case len(id) > MaxRoomIDLength:
		return errors.Join(ErrInvalidRoomID, errors.New("longer than 64 bytes"))
	case strings.ContainsAny(id, "/?#"):
		return errors.Join(ErrInvalidRoomID, errors.New("must not contain '/', '?' or '#'"))
	}
	return nil
}
