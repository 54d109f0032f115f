// Package protocol defines the {type, data} envelope spoken between huddle
// clients and the room server, and the closed set of messages it can carry.
package protocol

import "encoding/json"

// Type identifies the kind of message carried by an envelope.
type Type string

// Client to server.
const (
	TypeJoin            Type = "join"
	TypeUpdateSettings  Type = "update_settings"
	TypeKickParticipant Type = "kick_participant"
	TypeChatMessage     Type = "chat_message"
	TypeSignal          Type = "webrtc_signal"
	TypePing            Type = "ping"
)

// Server to client. chat_message and webrtc_signal travel in both directions.
const (
	TypeRoomStatus        Type = "room_status"
	TypeParticipantJoined Type = "participant_joined"
	TypeParticipantLeft   Type = "participant_left"
	TypeKicked            Type = "kicked"
	TypeError             Type = "error"
	TypePong              Type = "pong"
)

// Message is implemented by every payload that can be placed in an envelope.
type Message interface {
	Type() Type
}

// Join asks the server to bind the connection to a participant of the room
// named by the connection path.
type Join struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsHost   bool   `json:"isHost"`
}

// UpdateSettings is a host-only patch. Nil fields are left untouched.
type UpdateSettings struct {
	AllowChat        *bool `json:"allowChat,omitempty"`
	AllowScreenShare *bool `json:"allowScreenShare,omitempty"`
	AudioEnabled     *bool `json:"audioEnabled,omitempty"`
	VideoEnabled     *bool `json:"videoEnabled,omitempty"`
	IsLocked         *bool `json:"isLocked,omitempty"`
	MaxParticipants  *int  `json:"maxParticipants,omitempty"`
}

// KickParticipant is a host-only removal request.
type KickParticipant struct {
	ParticipantID string `json:"participantId"`
}

// ChatMessage is sent by a client with only Text set; the server fills in
// the sender fields and timestamp (unix milliseconds) before broadcasting.
type ChatMessage struct {
	Text       string `json:"text"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Signal carries an opaque negotiation payload. Clients set Target, the
// server replaces it with Sender when relaying.
type Signal struct {
	Target string          `json:"target,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

type Ping struct{}

type Pong struct{}

// Participant is the public projection of a room member.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsHost   bool   `json:"isHost"`
}

// Settings are the room toggles every participant can observe.
type Settings struct {
	AllowChat        bool `json:"allowChat"`
	AllowScreenShare bool `json:"allowScreenShare"`
	AudioEnabled     bool `json:"audioEnabled"`
	VideoEnabled     bool `json:"videoEnabled"`
	IsLocked         bool `json:"isLocked"`
	MaxParticipants  int  `json:"maxParticipants"`
}

// RoomStatus is a full snapshot of a room, participants in join order.
type RoomStatus struct {
	RoomID       string        `json:"roomId"`
	HostID       string        `json:"hostId"`
	Participants []Participant `json:"participants"`
	Settings     Settings      `json:"settings"`
}

type ParticipantJoined struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// ParticipantLeft reports a departure. HostID is the host after the
// departure was applied.
type ParticipantLeft struct {
	UserID string `json:"userId"`
	HostID string `json:"hostId,omitempty"`
}

type Kicked struct {
	Reason string `json:"reason"`
}

// Error is only ever sent to the connection that caused it. Code is the
// error kind; Reason narrows it down where a client can act on it.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ReasonDuplicateParticipant is set when a join names a participant that is
// still bound to another connection, typically a half-dead earlier session.
const ReasonDuplicateParticipant = "duplicate_participant"

func (Join) Type() Type              { return TypeJoin }
func (UpdateSettings) Type() Type    { return TypeUpdateSettings }
func (KickParticipant) Type() Type   { return TypeKickParticipant }
func (ChatMessage) Type() Type       { return TypeChatMessage }
func (Signal) Type() Type            { return TypeSignal }
func (Ping) Type() Type              { return TypePing }
func (Pong) Type() Type              { return TypePong }
func (RoomStatus) Type() Type        { return TypeRoomStatus }
func (ParticipantJoined) Type() Type { return TypeParticipantJoined }
func (ParticipantLeft) Type() Type   { return TypeParticipantLeft }
func (Kicked) Type() Type            { return TypeKicked }
func (Error) Type() Type             { return TypeError }

// Apply merges the non-nil fields of the patch into s.
func (p UpdateSettings) Apply(s Settings) Settings {
	if p.AllowChat != nil {
		s.AllowChat = *p.AllowChat
	}
	if p.AllowScreenShare != nil {
		s.AllowScreenShare = *p.AllowScreenShare
	}
	if p.AudioEnabled != nil {
		s.AudioEnabled = *p.AudioEnabled
	}
	if p.VideoEnabled != nil {
		s.VideoEnabled = *p.VideoEnabled
	}
	if p.IsLocked != nil {
		s.IsLocked = *p.IsLocked
	}
	if p.MaxParticipants != nil && *p.MaxParticipants > 0 {
		s.MaxParticipants = *p.MaxParticipants
	}
	return s
}
