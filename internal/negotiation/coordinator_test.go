package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type fakePC struct {
	mu         sync.Mutex
	calls      []string
	remote     []SessionDescription
	candidates []string
	offerErr   error
	closed     bool
}

func (f *fakePC) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePC) CreateOffer(context.Context) (SessionDescription, error) {
	f.record("create-offer")
	if f.offerErr != nil {
		return SessionDescription{}, f.offerErr
	}
	return SessionDescription{Type: KindOffer, SDP: "offer-sdp"}, nil
}

func (f *fakePC) CreateAnswer(context.Context) (SessionDescription, error) {
	f.record("create-answer")
	return SessionDescription{Type: KindAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakePC) SetRemoteDescription(sd SessionDescription) error {
	f.record("set-remote-" + sd.Type)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, sd)
	return nil
}

func (f *fakePC) AddICECandidate(c Candidate) error {
	f.record("add-candidate")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c.Candidate)
	return nil
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePC) addedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.candidates)
}

func (f *fakePC) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type sent struct {
	target  string
	payload Payload
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []sent
	ch   chan sent
}

func newRecordingSignaler() *recordingSignaler {
	return &recordingSignaler{ch: make(chan sent, 64)}
}

func (r *recordingSignaler) Signal(target string, p Payload) error {
	r.mu.Lock()
	r.sent = append(r.sent, sent{target, p})
	r.mu.Unlock()
	r.ch <- sent{target, p}
	return nil
}

// kinds summarizes what was signaled, with candidates by name.
func (r *recordingSignaler) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.payload.Type == KindCandidate {
			out = append(out, s.payload.Candidate.Candidate)
			continue
		}
		out = append(out, s.payload.Type)
	}
	return out
}

func cand(name string) Candidate {
	return Candidate{Candidate: name}
}

func newTestCoordinator(initiator bool) (*Coordinator, *fakePC, *recordingSignaler) {
	pc := &fakePC{}
	sig := newRecordingSignaler()
	c := NewCoordinator(CoordinatorConfig{
		PeerID:    "remote",
		Initiator: initiator,
		Conn:      pc,
		Signaler:  sig,
	})
	return c, pc, sig
}

func TestOffererPath(t *testing.T) {
	c, pc, sig := newTestCoordinator(true)

	c.handleOffer()
	if c.State() != StateAwaitingAnswer {
		t.Fatalf("state = %s", c.State())
	}

	// Gathered before the answer arrives, so they are held.
	c.handleLocalCandidate(cand("l1"))
	c.handleLocalCandidate(cand("l2"))
	// Arrived before the exchange completed, so they are buffered.
	c.handleSignal(Payload{Type: KindCandidate, Candidate: &Candidate{Candidate: "r1"}})

	if got := sig.kinds(); !slices.Equal(got, []string{"offer"}) {
		t.Fatalf("signaled %v before answer", got)
	}
	if got := pc.addedCandidates(); len(got) != 0 {
		t.Fatalf("applied %v before answer", got)
	}

	c.handleSignal(Payload{Type: KindAnswer, SDP: "answer-sdp"})

	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}
	if got := sig.kinds(); !slices.Equal(got, []string{"offer", "l1", "l2"}) {
		t.Fatalf("signaled %v", got)
	}
	if got := pc.addedCandidates(); !slices.Equal(got, []string{"r1"}) {
		t.Fatalf("applied %v", got)
	}

	c.handleLocalCandidate(cand("l3"))
	c.handleSignal(Payload{Type: KindCandidate, Candidate: &Candidate{Candidate: "r2"}})
	if got := sig.kinds(); !slices.Equal(got, []string{"offer", "l1", "l2", "l3"}) {
		t.Fatalf("late local candidate not sent: %v", got)
	}
	if got := pc.addedCandidates(); !slices.Equal(got, []string{"r1", "r2"}) {
		t.Fatalf("late remote candidate not applied: %v", got)
	}
}

func TestAnswererPath(t *testing.T) {
	c, pc, sig := newTestCoordinator(false)

	c.handleSignal(Payload{Type: KindCandidate, Candidate: &Candidate{Candidate: "early"}})
	c.handleSignal(Payload{Type: KindOffer, SDP: "offer-sdp"})

	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}
	want := []string{"set-remote-offer", "create-answer", "add-candidate"}
	if !slices.Equal(pc.calls, want) {
		t.Fatalf("calls = %v, want %v", pc.calls, want)
	}
	if got := sig.kinds(); !slices.Equal(got, []string{"answer"}) {
		t.Fatalf("signaled %v", got)
	}

	c.handleLocalCandidate(cand("l1"))
	if got := sig.kinds(); !slices.Equal(got, []string{"answer", "l1"}) {
		t.Fatalf("signaled %v", got)
	}
}

func TestOffererIgnoresCompetingOffer(t *testing.T) {
	c, pc, sig := newTestCoordinator(true)
	c.handleOffer()

	c.handleSignal(Payload{Type: KindOffer, SDP: "their-offer"})

	if c.State() != StateAwaitingAnswer {
		t.Fatalf("state = %s", c.State())
	}
	if len(pc.remote) != 0 {
		t.Fatalf("applied competing offer: %+v", pc.remote)
	}
	if got := sig.kinds(); !slices.Equal(got, []string{"offer"}) {
		t.Fatalf("signaled %v", got)
	}
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	c, pc, _ := newTestCoordinator(false)

	c.handleSignal(Payload{Type: KindAnswer, SDP: "stray"})

	if c.State() != StateIdle || len(pc.remote) != 0 {
		t.Fatalf("state = %s remote = %+v", c.State(), pc.remote)
	}
}

func TestOfferFailureDisconnects(t *testing.T) {
	c, pc, sig := newTestCoordinator(true)
	pc.offerErr = errors.New("no codecs")

	c.handleOffer()

	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	if len(sig.kinds()) != 0 {
		t.Fatal("signaled after failure")
	}
}

func TestResetAllowsRenegotiation(t *testing.T) {
	c, first, sig := newTestCoordinator(true)
	c.handleOffer()
	c.handleLocalCandidate(cand("stale"))
	c.handleDisconnected()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}

	second := &fakePC{}
	c.handleReset(second)
	if c.State() != StateIdle || !first.isClosed() {
		t.Fatalf("state = %s, old closed = %v", c.State(), first.isClosed())
	}

	c.handleOffer()
	c.handleSignal(Payload{Type: KindAnswer, SDP: "answer-sdp"})
	if got := sig.kinds(); !slices.Equal(got, []string{"offer", "offer"}) {
		t.Fatalf("signaled %v, stale candidate must not survive a reset", got)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestCandidatesForFailedLinkDropped(t *testing.T) {
	c, pc, _ := newTestCoordinator(true)
	c.handleOffer()
	c.handleSignal(Payload{Type: KindAnswer, SDP: "answer-sdp"})
	c.handleDisconnected()

	for range 3 {
		c.handleSignal(Payload{Type: KindCandidate, Candidate: &Candidate{Candidate: "stale"}})
	}
	if len(c.remotePending) != 0 || len(pc.addedCandidates()) != 0 {
		t.Fatalf("held %d, applied %v", len(c.remotePending), pc.addedCandidates())
	}
}

func TestEarlyCandidatesBounded(t *testing.T) {
	c, _, _ := newTestCoordinator(false)
	for range maxPendingCandidates + 10 {
		c.handleSignal(Payload{Type: KindCandidate, Candidate: &Candidate{Candidate: "early"}})
	}
	if len(c.remotePending) != maxPendingCandidates {
		t.Fatalf("held %d candidates, want %d", len(c.remotePending), maxPendingCandidates)
	}
}

func TestStateCallbacks(t *testing.T) {
	var got []State
	c := NewCoordinator(CoordinatorConfig{
		PeerID:    "remote",
		Initiator: true,
		Conn:      &fakePC{},
		Signaler:  newRecordingSignaler(),
		OnState:   func(_ string, s State) { got = append(got, s) },
	})

	c.handleOffer()
	c.handleSignal(Payload{Type: KindAnswer, SDP: "answer-sdp"})
	c.handleDisconnected()

	want := []State{StateOffering, StateAwaitingAnswer, StateConnected, StateDisconnected}
	if !slices.Equal(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
}

func TestRunProcessesEventsInOrder(t *testing.T) {
	c, pc, sig := newTestCoordinator(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.Offer()
	c.AddLocalCandidate(cand("l1"))
	c.HandleSignal(Payload{Type: KindAnswer, SDP: "answer-sdp"})

	for _, want := range []string{KindOffer, KindCandidate} {
		select {
		case s := <-sig.ch:
			if s.payload.Type != want || s.target != "remote" {
				t.Fatalf("signaled %+v, want %s", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s signaled", want)
		}
	}

	cancel()
	<-done
	if !pc.isClosed() {
		t.Fatal("peer connection left open after Run returned")
	}
	if err := c.Offer(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Offer after stop = %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	valid := []string{
		`{"type":"offer","sdp":"v=0"}`,
		`{"type":"answer","sdp":"v=0"}`,
		`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`,
	}
	for _, raw := range valid {
		if _, err := ParsePayload(json.RawMessage(raw)); err != nil {
			t.Errorf("ParsePayload(%s) = %v", raw, err)
		}
	}

	invalid := []string{
		`not json`,
		`{"type":"offer"}`,
		`{"type":"candidate"}`,
		`{"type":"bye"}`,
	}
	for _, raw := range invalid {
		if _, err := ParsePayload(json.RawMessage(raw)); err == nil {
			t.Errorf("ParsePayload(%s) accepted", raw)
		}
	}
}
