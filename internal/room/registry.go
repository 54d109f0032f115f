// Package room owns room and participant state. Every operation is a pure,
// synchronous state transition; a Registry is not safe for concurrent use and
// is meant to be owned by a single goroutine (the hub loop).
package room

import (
	"time"

	"github.com/BioHazard786/huddle/internal/protocol"
)

// Conn is the transport handle a participant is reachable through.
type Conn interface {
	Deliver(data []byte) error
}

// Participant is a bound member of a room.
type Participant struct {
	ID          string
	DisplayName string
	IsHost      bool
	Conn        Conn
	JoinedAt    time.Time
}

// Room is a named group of participants. It exists only while it has at
// least one participant, and exactly one of them holds host authority.
type Room struct {
	ID       string
	HostID   string
	Settings protocol.Settings

	// creatorID may re-enter the room while it is locked.
	creatorID    string
	order        []string
	participants map[string]*Participant
}

// Len returns the number of participants.
func (r *Room) Len() int {
	return len(r.order)
}

// Participant looks up a member by id.
func (r *Room) Participant(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

// Participants returns the members in join order.
func (r *Room) Participants() []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}

func (r *Room) remove(id string) {
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// DefaultSettings returns the settings a freshly created room starts with.
func DefaultSettings(maxParticipants int) protocol.Settings {
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	return protocol.Settings{
		AllowChat:        true,
		AllowScreenShare: true,
		AudioEnabled:     true,
		VideoEnabled:     true,
		IsLocked:         false,
		MaxParticipants:  maxParticipants,
	}
}

// Registry maps room ids to rooms.
type Registry struct {
	rooms    map[string]*Room
	defaults protocol.Settings
	now      func() time.Time
}

// NewRegistry creates an empty registry whose new rooms start with defaults.
func NewRegistry(defaults protocol.Settings) *Registry {
	if defaults.MaxParticipants < 1 {
		defaults.MaxParticipants = 1
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		defaults: defaults,
		now:      time.Now,
	}
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// Room looks up a live room.
func (r *Registry) Room(roomID string) (*Room, bool) {
	room, ok := r.rooms[roomID]
	return room, ok
}

// Join adds p to the room. A missing room is created with p as host when
// asHost is set; on an existing room asHost does not grant authority.
func (r *Registry) Join(roomID string, p Participant, asHost bool) (*Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		if !asHost {
			return nil, newError("join", roomID, ErrRoomNotFound)
		}
		room = &Room{
			ID:           roomID,
			HostID:       p.ID,
			Settings:     r.defaults,
			creatorID:    p.ID,
			participants: make(map[string]*Participant),
		}
		p.IsHost = true
		r.add(room, p)
		r.rooms[roomID] = room
		return room, nil
	}

	if _, exists := room.participants[p.ID]; exists {
		return nil, newError("join", roomID, ErrDuplicateParticipant)
	}
	if room.Len() >= room.Settings.MaxParticipants {
		return nil, newError("join", roomID, ErrRoomFull)
	}
	if room.Settings.IsLocked && !(asHost && p.ID == room.creatorID) {
		return nil, newError("join", roomID, ErrRoomLocked)
	}

	p.IsHost = false
	r.add(room, p)
	return room, nil
}

func (r *Registry) add(room *Room, p Participant) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	room.participants[p.ID] = &p
	room.order = append(room.order, p.ID)
}

// LeaveResult describes what a Leave changed.
type LeaveResult struct {
	// Participant is the removed member, nil if nothing was removed.
	Participant *Participant
	// NewHostID is set when host authority moved to another member.
	NewHostID   string
	RoomDeleted bool
}

// Leave removes a participant. If it held host authority the earliest
// remaining member becomes host; an emptied room is deleted. Unknown rooms
// and participants are ignored.
func (r *Registry) Leave(roomID, participantID string) LeaveResult {
	room, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	p, ok := room.participants[participantID]
	if !ok {
		return LeaveResult{}
	}

	room.remove(participantID)
	res := LeaveResult{Participant: p}

	if room.Len() == 0 {
		delete(r.rooms, roomID)
		res.RoomDeleted = true
		return res
	}

	if room.HostID == participantID {
		next := room.participants[room.order[0]]
		next.IsHost = true
		room.HostID = next.ID
		res.NewHostID = next.ID
	}
	return res
}

// Kick removes targetID on behalf of hostID.
func (r *Registry) Kick(roomID, hostID, targetID string) (*Participant, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, newError("kick", roomID, ErrRoomNotFound)
	}
	if room.HostID != hostID {
		return nil, newError("kick", roomID, ErrNotAuthorized)
	}
	if hostID == targetID {
		return nil, newError("kick", roomID, ErrSelfKick)
	}
	target, ok := room.participants[targetID]
	if !ok {
		return nil, newError("kick", roomID, ErrParticipantNotFound)
	}

	room.remove(targetID)
	return target, nil
}

// UpdateSettings merges the recognized keys of patch into the room settings.
func (r *Registry) UpdateSettings(roomID, callerID string, patch protocol.UpdateSettings) (protocol.Settings, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return protocol.Settings{}, newError("update settings", roomID, ErrRoomNotFound)
	}
	if room.HostID != callerID {
		return protocol.Settings{}, newError("update settings", roomID, ErrNotAuthorized)
	}

	room.Settings = patch.Apply(room.Settings)
	return room.Settings, nil
}

// Snapshot projects a room into its wire representation.
func (r *Registry) Snapshot(roomID string) (protocol.RoomStatus, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return protocol.RoomStatus{}, false
	}

	participants := make([]protocol.Participant, 0, room.Len())
	for _, p := range room.Participants() {
		participants = append(participants, protocol.Participant{
			UserID:   p.ID,
			UserName: p.DisplayName,
			IsHost:   p.IsHost,
		})
	}

	return protocol.RoomStatus{
		RoomID:       room.ID,
		HostID:       room.HostID,
		Participants: participants,
		Settings:     room.Settings,
	}, true
}
