package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const (
	eventBufferSize = 64
	// maxPendingCandidates bounds the remote candidates held before the
	// description exchange completes.
	maxPendingCandidates = 256
)

var ErrStopped = errors.New("coordinator stopped")

// Coordinator negotiates with a single remote peer. Every input is an event
// handled in order on the goroutine running Run, so the buffers below are
// never touched concurrently.
type Coordinator struct {
	peerID    string
	initiator bool
	sig       Signaler
	onState   func(peerID string, s State)
	log       *slog.Logger

	events chan func()
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state State

	pc PeerConnection
	// remoteSet is true once the peer's description has been applied.
	remoteSet bool
	// localSent is true once our own description went out.
	localSent bool
	// Local candidates wait for the remote description; remote candidates
	// wait for the whole description exchange.
	localPending  []Candidate
	remotePending []Candidate
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	PeerID string
	// Initiator marks the side that sends the offer.
	Initiator bool
	Conn      PeerConnection
	Signaler  Signaler
	OnState   func(peerID string, s State)
}

// NewCoordinator returns an idle coordinator. Call Run to start it.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		peerID:    cfg.PeerID,
		initiator: cfg.Initiator,
		sig:       cfg.Signaler,
		onState:   cfg.OnState,
		pc:        cfg.Conn,
		log:       slog.With("component", "negotiation", "peer", cfg.PeerID),
		events:    make(chan func(), eventBufferSize),
		done:      make(chan struct{}),
	}
}

// Run handles events until ctx ends or Stop is called, then closes the peer
// connection.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		if c.pc != nil {
			c.pc.Close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.done:
			return
		case ev := <-c.events:
			ev()
		}
	}
}

// Stop ends Run.
func (c *Coordinator) Stop() {
	c.once.Do(func() { close(c.done) })
}

// PeerID is the remote participant this coordinator negotiates with.
func (c *Coordinator) PeerID() string {
	return c.peerID
}

// State returns the current negotiation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Offer starts negotiation from this side.
func (c *Coordinator) Offer() error {
	return c.post(c.handleOffer)
}

// HandleSignal feeds a payload relayed from the remote peer.
func (c *Coordinator) HandleSignal(p Payload) error {
	return c.post(func() { c.handleSignal(p) })
}

// AddLocalCandidate queues a candidate gathered by the peer connection.
func (c *Coordinator) AddLocalCandidate(cand Candidate) error {
	return c.post(func() { c.handleLocalCandidate(cand) })
}

// Disconnected reports that the peer connection failed or closed.
func (c *Coordinator) Disconnected() error {
	return c.post(c.handleDisconnected)
}

// Reset swaps in a fresh peer connection and returns to idle so the pair can
// negotiate again.
func (c *Coordinator) Reset(pc PeerConnection) error {
	return c.post(func() { c.handleReset(pc) })
}

func (c *Coordinator) post(ev func()) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.log.Debug("negotiation state", "from", prev, "to", s)
	if c.onState != nil {
		c.onState(c.peerID, s)
	}
}

func (c *Coordinator) handleOffer() {
	if st := c.State(); st != StateIdle {
		c.log.Debug("offer requested outside idle", "state", st)
		return
	}
	c.setState(StateOffering)

	offer, err := c.pc.CreateOffer(context.Background())
	if err != nil {
		c.fail("create offer", err)
		return
	}
	if err := c.sig.Signal(c.peerID, Payload{Type: KindOffer, SDP: offer.SDP}); err != nil {
		c.fail("send offer", err)
		return
	}
	c.localSent = true
	c.setState(StateAwaitingAnswer)
}

func (c *Coordinator) handleSignal(p Payload) {
	switch p.Type {
	case KindOffer:
		c.handleRemoteOffer(p)
	case KindAnswer:
		c.handleRemoteAnswer(p)
	case KindCandidate:
		c.handleRemoteCandidate(*p.Candidate)
	default:
		c.log.Warn("ignoring unknown signal", "type", p.Type)
	}
}

func (c *Coordinator) handleRemoteOffer(p Payload) {
	if c.initiator {
		// The earlier participant always offers, so an offer from the
		// other side is a glare and ours wins.
		c.log.Debug("ignoring offer, this side is the offerer")
		return
	}
	if st := c.State(); st != StateIdle {
		c.log.Debug("ignoring offer outside idle", "state", st)
		return
	}
	c.setState(StateAnswering)

	if err := c.pc.SetRemoteDescription(SessionDescription{Type: KindOffer, SDP: p.SDP}); err != nil {
		c.fail("apply offer", err)
		return
	}
	c.remoteSet = true

	answer, err := c.pc.CreateAnswer(context.Background())
	if err != nil {
		c.fail("create answer", err)
		return
	}
	if err := c.sig.Signal(c.peerID, Payload{Type: KindAnswer, SDP: answer.SDP}); err != nil {
		c.fail("send answer", err)
		return
	}
	c.localSent = true

	c.completeExchange()
}

func (c *Coordinator) handleRemoteAnswer(p Payload) {
	if st := c.State(); st != StateAwaitingAnswer {
		c.log.Debug("ignoring unexpected answer", "state", st)
		return
	}
	if err := c.pc.SetRemoteDescription(SessionDescription{Type: KindAnswer, SDP: p.SDP}); err != nil {
		c.fail("apply answer", err)
		return
	}
	c.remoteSet = true
	c.completeExchange()
}

// completeExchange runs once both descriptions are in place.
func (c *Coordinator) completeExchange() {
	c.flushLocal()

	pending := c.remotePending
	c.remotePending = nil
	for _, cand := range pending {
		c.addRemote(cand)
	}
	c.setState(StateConnected)
}

func (c *Coordinator) handleRemoteCandidate(cand Candidate) {
	switch c.State() {
	case StateConnected:
		c.addRemote(cand)
	case StateDisconnected:
		// Belongs to the failed session; a restart brings its own.
		c.log.Debug("dropping candidate for a failed link")
	default:
		if len(c.remotePending) >= maxPendingCandidates {
			c.log.Warn("too many early candidates, dropping", "held", len(c.remotePending))
			return
		}
		c.remotePending = append(c.remotePending, cand)
	}
}

func (c *Coordinator) addRemote(cand Candidate) {
	if err := c.pc.AddICECandidate(cand); err != nil {
		// One bad candidate does not doom the others.
		c.log.Warn("remote candidate rejected", "error", err)
	}
}

func (c *Coordinator) handleLocalCandidate(cand Candidate) {
	c.localPending = append(c.localPending, cand)
	if c.remoteSet && c.localSent {
		c.flushLocal()
	}
}

func (c *Coordinator) flushLocal() {
	pending := c.localPending
	c.localPending = nil
	for i, cand := range pending {
		if err := c.sig.Signal(c.peerID, Payload{Type: KindCandidate, Candidate: &cand}); err != nil {
			c.log.Warn("send candidate", "error", err)
			c.localPending = append(c.localPending, pending[i:]...)
			return
		}
	}
}

func (c *Coordinator) handleDisconnected() {
	c.setState(StateDisconnected)
}

func (c *Coordinator) handleReset(pc PeerConnection) {
	if c.pc != nil {
		c.pc.Close()
	}
	c.pc = pc
	c.remoteSet = false
	c.localSent = false
	c.localPending = nil
	c.remotePending = nil
	c.setState(StateIdle)
}

func (c *Coordinator) fail(op string, err error) {
	c.log.Error("negotiation failed", "op", op, "error", err)
	c.setState(StateDisconnected)
}
