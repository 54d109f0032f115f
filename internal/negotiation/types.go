// Package negotiation runs the offer/answer/candidate exchange with every
// other participant of a room over the room server's signal relay.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnexpectedDescription = errors.New("unexpected session description type")

// State is the negotiation state with one remote peer.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Signal payload kinds.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate. The JSON shape matches the browser
// RTCIceCandidateInit so web peers can share a room.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Payload is what travels inside a webrtc_signal envelope. The server never
// looks at it.
type Payload struct {
	Type      string     `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// ParsePayload decodes a relayed signal.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("invalid signal payload: %w", err)
	}
	switch p.Type {
	case KindOffer, KindAnswer:
		if p.SDP == "" {
			return Payload{}, fmt.Errorf("invalid signal payload: %s without sdp", p.Type)
		}
	case KindCandidate:
		if p.Candidate == nil {
			return Payload{}, fmt.Errorf("invalid signal payload: candidate missing")
		}
	default:
		return Payload{}, fmt.Errorf("invalid signal payload: unknown type %q", p.Type)
	}
	return p, nil
}

// PeerConnection is the capability that does the actual media and data
// transport. CreateOffer and CreateAnswer also apply the result as the local
// description.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(Candidate) error
	Close() error
}

// Signaler sends a payload to one participant through the room server.
type Signaler interface {
	Signal(target string, p Payload) error
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(target string, p Payload) error

func (f SignalerFunc) Signal(target string, p Payload) error {
	return f(target, p)
}
