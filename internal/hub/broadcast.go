package hub

import (
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/room"
)

// broadcastToRoom delivers msg to every participant of the room in join
// order, skipping exclude. A participant whose delivery fails is removed as
// if it had left. It returns the number of successful deliveries.
func (h *Hub) broadcastToRoom(roomID string, msg protocol.Message, exclude string) int {
	r, ok := h.registry.Room(roomID)
	if !ok {
		return 0
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("encode broadcast", "type", msg.Type(), "error", err)
		return 0
	}

	type failure struct {
		p   *room.Participant
		err error
	}
	var failed []failure
	delivered := 0

	for _, p := range r.Participants() {
		if p.ID == exclude {
			continue
		}
		if err := p.Conn.Deliver(data); err != nil {
			failed = append(failed, failure{p, err})
			continue
		}
		delivered++
	}

	for _, f := range failed {
		h.dropParticipant(roomID, f.p, f.err)
	}
	return delivered
}

// send delivers msg to a single connection, bound or not.
func (h *Hub) send(c *Client, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error("encode message", "type", msg.Type(), "error", err)
		return
	}
	if err := c.Deliver(data); err != nil {
		if c.Bound() {
			if p, ok := h.participant(c.RoomID, c.ParticipantID); ok {
				h.dropParticipant(c.RoomID, p, err)
				return
			}
		}
		h.log.Debug("send to unbound connection failed", "conn", c.ID, "error", err)
		h.closeClient(c)
	}
}

func (h *Hub) sendError(c *Client, err error) {
	h.log.Debug("request rejected", "conn", c.ID, "room", c.RoomID, "kind", Classify(err), "error", err)
	h.send(c, errorMessage(err))
}

// dropParticipant treats a failed delivery exactly like a leave. The broken
// connection is not told anything.
func (h *Hub) dropParticipant(roomID string, p *room.Participant, cause error) {
	if cur, still := h.participant(roomID, p.ID); !still || cur != p {
		return
	}
	h.log.Warn("removing unreachable participant", "room", roomID, "participant", p.ID, "kind", Classify(cause), "error", cause)

	if c, ok := p.Conn.(*Client); ok {
		h.closeClient(c)
	}
	h.leave(roomID, p.ID)
}

// leave removes a participant and tells the rest of the room.
func (h *Hub) leave(roomID, participantID string) {
	res := h.registry.Leave(roomID, participantID)
	if res.Participant == nil {
		return
	}
	if c, ok := res.Participant.Conn.(*Client); ok && c.ParticipantID == participantID {
		c.ParticipantID = ""
	}

	if res.RoomDeleted {
		h.log.Info("room deleted", "room", roomID)
		return
	}

	r, _ := h.registry.Room(roomID)
	if res.NewHostID != "" {
		h.log.Info("host reassigned", "room", roomID, "host", res.NewHostID)
	}
	h.broadcastToRoom(roomID, protocol.ParticipantLeft{UserID: participantID, HostID: r.HostID}, "")
}

func (h *Hub) participant(roomID, participantID string) (*room.Participant, bool) {
	r, ok := h.registry.Room(roomID)
	if !ok {
		return nil, false
	}
	return r.Participant(participantID)
}
