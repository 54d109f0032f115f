package hub

import (
	"fmt"

	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/room"
)

const kickReason = "removed by host"

// handleMessage decodes one inbound frame and dispatches it. Nothing a
// client sends can tear down its connection from here.
func (h *Hub) handleMessage(c *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic", "conn", c.ID, "room", c.RoomID, "panic", r)
			h.sendError(c, errHandlerPanic)
		}
	}()

	c.touch()

	msg, err := protocol.Decode(data)
	if err != nil {
		h.sendError(c, err)
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		h.handleJoin(c, m)
	case protocol.UpdateSettings:
		h.handleUpdateSettings(c, m)
	case protocol.KickParticipant:
		h.handleKick(c, m)
	case protocol.ChatMessage:
		h.handleChat(c, m)
	case protocol.Signal:
		h.handleSignal(c, m)
	case protocol.Ping:
		h.send(c, protocol.Pong{})
	default:
		h.sendError(c, fmt.Errorf("%w: %s is not accepted from clients", protocol.ErrUnknownType, msg.Type()))
	}
}

func (h *Hub) handleJoin(c *Client, m protocol.Join) {
	if c.Bound() {
		h.sendError(c, ErrAlreadyJoined)
		return
	}
	if m.UserID == "" {
		h.sendError(c, ErrMissingUserID)
		return
	}

	// The room always comes from the connection path.
	_, err := h.registry.Join(c.RoomID, room.Participant{
		ID:          m.UserID,
		DisplayName: m.UserName,
		Conn:        c,
	}, m.IsHost)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.ParticipantID = m.UserID
	h.log.Info("participant joined", "room", c.RoomID, "participant", m.UserID, "conn", c.ID)

	snapshot, _ := h.registry.Snapshot(c.RoomID)
	h.send(c, snapshot)
	if !c.Bound() {
		return
	}

	h.broadcastToRoom(c.RoomID, protocol.ParticipantJoined{
		UserID:   m.UserID,
		UserName: m.UserName,
	}, m.UserID)
}

func (h *Hub) handleUpdateSettings(c *Client, m protocol.UpdateSettings) {
	if !h.requireBound(c) {
		return
	}
	if _, err := h.registry.UpdateSettings(c.RoomID, c.ParticipantID, m); err != nil {
		h.sendError(c, err)
		return
	}

	snapshot, _ := h.registry.Snapshot(c.RoomID)
	h.broadcastToRoom(c.RoomID, snapshot, "")
}

func (h *Hub) handleKick(c *Client, m protocol.KickParticipant) {
	if !h.requireBound(c) {
		return
	}
	target, err := h.registry.Kick(c.RoomID, c.ParticipantID, m.ParticipantID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	h.log.Info("participant kicked", "room", c.RoomID, "participant", target.ID, "host", c.ParticipantID)

	if tc, ok := target.Conn.(*Client); ok {
		tc.ParticipantID = ""
		h.send(tc, protocol.Kicked{Reason: kickReason})
	}

	r, ok := h.registry.Room(c.RoomID)
	if !ok {
		return
	}
	h.broadcastToRoom(c.RoomID, protocol.ParticipantLeft{UserID: target.ID, HostID: r.HostID}, "")
}

func (h *Hub) handleChat(c *Client, m protocol.ChatMessage) {
	if !h.requireBound(c) {
		return
	}
	r, _ := h.registry.Room(c.RoomID)
	if !r.Settings.AllowChat {
		h.log.Debug("chat disabled, message dropped", "room", c.RoomID, "participant", c.ParticipantID)
		return
	}
	sender, _ := r.Participant(c.ParticipantID)

	h.broadcastToRoom(c.RoomID, protocol.ChatMessage{
		Text:       m.Text,
		Sender:     sender.ID,
		SenderName: sender.DisplayName,
		Timestamp:  h.now().UnixMilli(),
	}, "")
}

// handleSignal relays a negotiation payload to exactly one participant of
// the sender's room. Unknown targets are dropped without telling the sender.
func (h *Hub) handleSignal(c *Client, m protocol.Signal) {
	if !h.requireBound(c) {
		return
	}
	target, ok := h.participant(c.RoomID, m.Target)
	if !ok || target.ID == c.ParticipantID {
		h.log.Debug("signal target not in room", "room", c.RoomID, "from", c.ParticipantID, "target", m.Target)
		return
	}

	data, err := protocol.Encode(protocol.Signal{Sender: c.ParticipantID, Signal: m.Signal})
	if err != nil {
		h.sendError(c, err)
		return
	}
	if err := target.Conn.Deliver(data); err != nil {
		h.dropParticipant(c.RoomID, target, err)
	}
}

// requireBound rejects messages from connections that have not joined. A
// bound connection always refers to a live room.
func (h *Hub) requireBound(c *Client) bool {
	if !c.Bound() {
		h.sendError(c, ErrNotJoined)
		return false
	}
	if _, ok := h.participant(c.RoomID, c.ParticipantID); !ok {
		c.ParticipantID = ""
		h.sendError(c, ErrNotJoined)
		return false
	}
	return true
}
