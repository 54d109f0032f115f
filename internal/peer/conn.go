// Package peer adapts pion/webrtc to the negotiation capability and carries
// direct chat between participants over a data channel.
package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/negotiation"
)

const chatLabel = "chat"

// Identity is what this side announces in its hello frame.
type Identity struct {
	UserID   string
	UserName string
	Version  string
}

// Handlers receive events from a Conn. Any may be nil. They are called from
// pion's goroutines.
type Handlers struct {
	// OnCandidate gets every locally gathered ICE candidate.
	OnCandidate func(negotiation.Candidate)
	// OnConnected fires when the direct link is up.
	OnConnected func()
	// OnDisconnected fires when the link failed or closed.
	OnDisconnected func()
	// OnHello fires when the remote side introduced itself.
	OnHello func(HelloPayload)
	// OnChat fires for every direct message.
	OnChat func(ChatPayload)
}

// Conn is one peer connection toward a remote participant.
type Conn struct {
	peerID   string
	self     Identity
	pc       *pion.PeerConnection
	handlers Handlers
	log      *slog.Logger

	mu   sync.Mutex
	chat *pion.DataChannel
	open bool
}

// NewPeerConnection builds a pion peer connection with the configured ICE
// servers. Relay-only transport is used when forced or when the network
// looks like a VPN, but only if a TURN server exists.
func NewPeerConnection(cfg *config.ClientConfig) (*pion.PeerConnection, error) {
	pc, err := pion.NewPeerConnection(Configuration(cfg, ShouldForceRelay()))
	if err != nil {
		return nil, newError("create peer connection", "", err)
	}
	return pc, nil
}

// Configuration maps client configuration onto pion's.
func Configuration(cfg *config.ClientConfig, detectedRelay bool) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || detectedRelay) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// New opens a connection toward peerID. The initiator creates the chat data
// channel so it is part of the first offer; the other side accepts it.
func New(cfg *config.ClientConfig, peerID string, initiator bool, self Identity, h Handlers) (*Conn, error) {
	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		peerID:   peerID,
		self:     self,
		pc:       pc,
		handlers: h,
		log:      slog.With("component", "peer", "peer", peerID),
	}

	pc.OnICECandidate(func(cand *pion.ICECandidate) {
		if cand == nil || h.OnCandidate == nil {
			return
		}
		h.OnCandidate(fromPion(cand.ToJSON()))
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		c.log.Debug("peer connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateConnected:
			if h.OnConnected != nil {
				h.OnConnected()
			}
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			if h.OnDisconnected != nil {
				h.OnDisconnected()
			}
		}
	})

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(chatLabel, &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, newError("create data channel", peerID, err)
		}
		c.attach(dc)
	} else {
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() != chatLabel {
				c.log.Debug("ignoring data channel", "label", dc.Label())
				return
			}
			c.attach(dc)
		})
	}
	return c, nil
}

func (c *Conn) attach(dc *pion.DataChannel) {
	c.mu.Lock()
	c.chat = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		c.open = true
		c.mu.Unlock()

		if err := c.send(FrameHello, HelloPayload(c.self)); err != nil {
			c.log.Warn("send hello", "error", err)
		}
	})

	dc.OnClose(func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
	})

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		c.handleFrame(msg.Data)
	})
}

func (c *Conn) handleFrame(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		c.log.Warn("dropping data channel message", "error", err)
		return
	}

	switch f.Type {
	case FrameHello:
		var hello HelloPayload
		if err := f.DecodePayload(&hello); err != nil {
			c.log.Warn("bad hello frame", "error", err)
			return
		}
		if c.handlers.OnHello != nil {
			c.handlers.OnHello(hello)
		}
	case FrameChat:
		var chat ChatPayload
		if err := f.DecodePayload(&chat); err != nil {
			c.log.Warn("bad chat frame", "error", err)
			return
		}
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(chat)
		}
	}
}

// SendChat sends text directly to the peer.
func (c *Conn) SendChat(text string) error {
	return c.send(FrameChat, ChatPayload{Text: text, SentAt: time.Now().UnixMilli()})
}

// Open reports whether the chat channel is usable.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Conn) send(t string, payload any) error {
	c.mu.Lock()
	dc, open := c.chat, c.open
	c.mu.Unlock()
	if dc == nil || !open {
		return newError("send "+t, c.peerID, ErrChannelNotOpen)
	}

	data, err := EncodeFrame(t, payload)
	if err != nil {
		return newError("encode "+t, c.peerID, err)
	}
	if err := dc.Send(data); err != nil {
		return newError("send "+t, c.peerID, err)
	}
	return nil
}

// CreateOffer creates an offer and applies it as the local description.
func (c *Conn) CreateOffer(ctx context.Context) (negotiation.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return negotiation.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, newError("create offer", c.peerID, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return negotiation.SessionDescription{}, newError("set local description", c.peerID, err)
	}
	return fromPionDescription(c.pc.LocalDescription()), nil
}

// CreateAnswer creates an answer and applies it as the local description.
func (c *Conn) CreateAnswer(ctx context.Context) (negotiation.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return negotiation.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.SessionDescription{}, newError("create answer", c.peerID, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return negotiation.SessionDescription{}, newError("set local description", c.peerID, err)
	}
	return fromPionDescription(c.pc.LocalDescription()), nil
}

// SetRemoteDescription applies the peer's offer or answer.
func (c *Conn) SetRemoteDescription(sd negotiation.SessionDescription) error {
	desc := pion.SessionDescription{Type: pion.NewSDPType(sd.Type), SDP: sd.SDP}
	if desc.Type == pion.SDPTypeUnknown {
		return newError("set remote description", c.peerID, negotiation.ErrUnexpectedDescription)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return newError("set remote description", c.peerID, err)
	}
	return nil
}

// AddICECandidate applies a candidate relayed from the peer.
func (c *Conn) AddICECandidate(cand negotiation.Candidate) error {
	if err := c.pc.AddICECandidate(toPion(cand)); err != nil {
		return newError("add ICE candidate", c.peerID, err)
	}
	return nil
}

// Close tears down the peer connection and its channels.
func (c *Conn) Close() error {
	return c.pc.Close()
}

func fromPionDescription(sd *pion.SessionDescription) negotiation.SessionDescription {
	if sd == nil {
		return negotiation.SessionDescription{}
	}
	return negotiation.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func fromPion(init pion.ICECandidateInit) negotiation.Candidate {
	return negotiation.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func toPion(c negotiation.Candidate) pion.ICECandidateInit {
	return pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
