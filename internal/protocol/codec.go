package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// envelope is the only shape ever written to the wire.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type decodeFunc func(json.RawMessage) (Message, error)

var decoders = map[Type]decodeFunc{
	TypeJoin:              decodeAs[Join],
	TypeUpdateSettings:    decodeAs[UpdateSettings],
	TypeKickParticipant:   decodeAs[KickParticipant],
	TypeChatMessage:       decodeAs[ChatMessage],
	TypeSignal:            decodeAs[Signal],
	TypePing:              decodeAs[Ping],
	TypePong:              decodeAs[Pong],
	TypeRoomStatus:        decodeAs[RoomStatus],
	TypeParticipantJoined: decodeAs[ParticipantJoined],
	TypeParticipantLeft:   decodeAs[ParticipantLeft],
	TypeKicked:            decodeAs[Kicked],
	TypeError:             decodeAs[Error],
}

// Encode wraps m in an envelope and serializes it.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Data: data})
}

// MustEncode is Encode for messages whose fields cannot fail to marshal.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses an envelope and returns its typed payload. Errors wrap
// ErrMalformed or ErrUnknownType.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return decode(env.Data)
}

func decodeAs[T Message](data json.RawMessage) (Message, error) {
	var m T
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, m.Type(), err)
	}
	return m, nil
}
