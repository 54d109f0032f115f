package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRoomID(t *testing.T) {
	testCases := map[string]bool{
		"ABC":                   true,
		"team-sync_2":           true,
		strings.Repeat("x", 64): true,
		"":                      false,
		strings.Repeat("x", 65): false,
		"team/sync":             false,
		"a?b":                   false,
		"a#b":                   false,
	}

	for id, ok := range testCases {
		err := ValidateRoomID(id)
		if ok && err != nil {
			t.Errorf("ValidateRoomID(%q) = %v", id, err)
		}
		if !ok && !errors.Is(err, ErrInvalidRoomID) {
			t.Errorf("ValidateRoomID(%q) = %v, want ErrInvalidRoomID", id, err)
		}
	}
}
