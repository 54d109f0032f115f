package peer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame types sent over the chat data channel.
const (
	FrameHello = "hello"
	FrameChat  = "chat"
)

// Frame represents every message on the chat data channel.
type Frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload is sent by both sides as soon as the channel opens.
type HelloPayload struct {
	UserID   string `msgpack:"userId"`
	UserName string `msgpack:"userName"`
	Version  string `msgpack:"version"`
}

// ChatPayload is a direct message that never touches the room server.
type ChatPayload struct {
	Text   string `msgpack:"text"`
	SentAt int64  `msgpack:"sentAt"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(t string, payload any) (Frame, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: b}, nil
}

// DecodePayload decodes the frame payload into v.
func (f Frame) DecodePayload(v any) error {
	return msgpack.Unmarshal(f.Payload, v)
}

// EncodeFrame builds and serializes a frame in one step.
func EncodeFrame(t string, payload any) ([]byte, error) {
	f, err := NewFrame(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(f)
}

// DecodeFrame parses a data channel message. Unknown types are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case FrameHello, FrameChat:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}
