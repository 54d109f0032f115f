package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Factory opens a peer connection toward peerID. Local candidates gathered by
// the connection must be passed to the coordinator returned by Mesh.Peer.
type Factory func(peerID string, initiator bool) (PeerConnection, error)

// MeshConfig configures a Mesh.
type MeshConfig struct {
	// Self is the local participant id.
	Self     string
	Factory  Factory
	Signaler Signaler
	OnState  func(peerID string, s State)
}

// Mesh keeps one Coordinator per remote participant and decides who offers:
// of any two participants, the one that joined the room first.
type Mesh struct {
	cfg MeshConfig
	ctx context.Context
	log *slog.Logger

	mu    sync.Mutex
	order []string
	peers map[string]*Coordinator
}

// NewMesh returns an empty mesh whose coordinators live until ctx ends.
func NewMesh(ctx context.Context, cfg MeshConfig) *Mesh {
	return &Mesh{
		cfg:   cfg,
		ctx:   ctx,
		log:   slog.With("component", "mesh"),
		peers: make(map[string]*Coordinator),
	}
}

// ShouldOffer reports whether the local participant offers to peerID.
func (m *Mesh) ShouldOffer(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldOfferLocked(peerID)
}

func (m *Mesh) shouldOfferLocked(peerID string) bool {
	self := slices.Index(m.order, m.cfg.Self)
	peer := slices.Index(m.order, peerID)
	return self >= 0 && peer >= 0 && self < peer
}

// SetParticipants replaces the known join order with a room snapshot. Peers
// no longer present are dropped and later joiners without a coordinator get
// an offer.
func (m *Mesh) SetParticipants(ids []string) {
	m.mu.Lock()
	m.order = slices.Clone(ids)

	var stale []*Coordinator
	for id, c := range m.peers {
		if !slices.Contains(ids, id) {
			stale = append(stale, c)
			delete(m.peers, id)
		}
	}

	var offers []*Coordinator
	for _, id := range ids {
		if id == m.cfg.Self || m.peers[id] != nil || !m.shouldOfferLocked(id) {
			continue
		}
		if c := m.startLocked(id, true); c != nil {
			offers = append(offers, c)
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		c.Stop()
	}
	for _, c := range offers {
		c.Offer()
	}
}

// PeerJoined records a new participant at the end of the join order and
// offers to it. A later joiner is always offered to by us.
func (m *Mesh) PeerJoined(peerID string) {
	if peerID == m.cfg.Self {
		return
	}
	m.mu.Lock()
	if !slices.Contains(m.order, peerID) {
		m.order = append(m.order, peerID)
	}
	if old := m.peers[peerID]; old != nil {
		// A participant that rejoins starts over.
		old.Stop()
		delete(m.peers, peerID)
	}
	var c *Coordinator
	if m.shouldOfferLocked(peerID) {
		c = m.startLocked(peerID, true)
	}
	m.mu.Unlock()

	if c != nil {
		c.Offer()
	}
}

// PeerLeft tears down negotiation with peerID.
func (m *Mesh) PeerLeft(peerID string) {
	m.mu.Lock()
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == peerID })
	c := m.peers[peerID]
	delete(m.peers, peerID)
	m.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}

// HandleSignal routes a relayed payload from peerID. An offer from a peer we
// have no coordinator for starts one on the answering side.
func (m *Mesh) HandleSignal(peerID string, raw json.RawMessage) error {
	p, err := ParsePayload(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	c := m.peers[peerID]
	var fresh PeerConnection
	switch {
	case c == nil && p.Type == KindOffer:
		c = m.startLocked(peerID, false)
	case c != nil && p.Type == KindOffer && !c.initiator:
		// The offerer only offers again after its link failed, possibly
		// before this side noticed. Answer on a fresh connection.
		if st := c.State(); st == StateConnected || st == StateDisconnected {
			if fresh, err = m.cfg.Factory(peerID, false); err != nil {
				m.mu.Unlock()
				return err
			}
		}
	}
	m.mu.Unlock()

	if c == nil {
		m.log.Debug("dropping signal from unknown peer", "peer", peerID, "type", p.Type)
		return nil
	}
	if fresh != nil {
		m.log.Info("peer restarted negotiation", "peer", peerID)
		if err := c.Reset(fresh); err != nil {
			fresh.Close()
			return err
		}
	}
	return c.HandleSignal(p)
}

// Restart renegotiates with peerID over a fresh connection after the direct
// link failed while both sides stayed in the room. The offering side offers
// again; the other side returns to idle and waits for that offer.
func (m *Mesh) Restart(peerID string) error {
	if m.ctx.Err() != nil {
		return nil
	}
	m.mu.Lock()
	c := m.peers[peerID]
	if c == nil {
		m.mu.Unlock()
		return nil
	}
	pc, err := m.cfg.Factory(peerID, c.initiator)
	m.mu.Unlock()

	c.Disconnected()
	if err != nil {
		return err
	}
	if err := c.Reset(pc); err != nil {
		pc.Close()
		return err
	}
	m.log.Info("restarting negotiation", "peer", peerID, "offerer", c.initiator)
	if c.initiator {
		return c.Offer()
	}
	return nil
}

// Peer returns the coordinator for peerID, if any.
func (m *Mesh) Peer(peerID string) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.peers[peerID]
	return c, ok
}

// States returns the negotiation state of every peer.
func (m *Mesh) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.peers))
	for id, c := range m.peers {
		out[id] = c.State()
	}
	return out
}

// Peers lists remote participants with a coordinator, sorted.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.peers))
}

// Reset stops every coordinator and forgets the room. It is used when the
// signaling connection drops, since the server treats that as a leave.
func (m *Mesh) Reset() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*Coordinator)
	m.order = nil
	m.mu.Unlock()

	for _, c := range peers {
		c.Stop()
	}
}

func (m *Mesh) startLocked(peerID string, initiator bool) *Coordinator {
	pc, err := m.cfg.Factory(peerID, initiator)
	if err != nil {
		m.log.Error("open peer connection", "peer", peerID, "error", err)
		return nil
	}
	c := NewCoordinator(CoordinatorConfig{
		PeerID:    peerID,
		Initiator: initiator,
		Conn:      pc,
		Signaler:  m.cfg.Signaler,
		OnState:   m.cfg.OnState,
	})
	m.peers[peerID] = c
	go c.Run(m.ctx)
	return c
}
