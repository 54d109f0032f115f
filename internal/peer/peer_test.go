package peer

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/negotiation"
)

func TestFrameRoundTrip(t *testing.T) {
	data, err := EncodeFrame(FrameChat, ChatPayload{Text: "hi", SentAt: 42})
	if err != nil {
		t.Fatal(err)
	}

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	var chat ChatPayload
	if err := f.DecodePayload(&chat); err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameChat || chat.Text != "hi" || chat.SentAt != 42 {
		t.Fatalf("decoded %s %+v", f.Type, chat)
	}
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	data, _ := msgpack.Marshal(Frame{Type: "file"})
	if _, err := DecodeFrame(data); !errors.Is(err, ErrUnknownFrame) {
		t.Fatalf("DecodeFrame = %v", err)
	}
	if _, err := DecodeFrame([]byte{0xc1}); err == nil {
		t.Fatal("garbage decoded")
	}
}

func TestConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      config.ClientConfig
		detected bool
		servers  int
		policy   pion.ICETransportPolicy
	}{
		{"stun only", config.ClientConfig{STUNServer: "stun:s:3478"}, true, 1, pion.ICETransportPolicyAll},
		{"turn available", config.ClientConfig{STUNServer: "stun:s:3478", TURNServer: "t"}, false, 2, pion.ICETransportPolicyAll},
		{"turn forced", config.ClientConfig{TURNServer: "t", ForceRelay: true}, false, 1, pion.ICETransportPolicyRelay},
		{"vpn detected", config.ClientConfig{TURNServer: "t"}, true, 1, pion.ICETransportPolicyRelay},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Configuration(&tc.cfg, tc.detected)
			if len(got.ICEServers) != tc.servers || got.ICETransportPolicy != tc.policy {
				t.Fatalf("servers=%d policy=%s", len(got.ICEServers), got.ICETransportPolicy)
			}
		})
	}
}

func TestCandidateConversion(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	in := negotiation.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	out := fromPion(toPion(in))
	if out.Candidate != in.Candidate || *out.SDPMid != mid || *out.SDPMLineIndex != idx {
		t.Fatalf("converted %+v", out)
	}
}

func TestOfferCarriesChatChannel(t *testing.T) {
	cfg := &config.ClientConfig{}
	offerer, err := New(cfg, "guest", true, Identity{UserID: "host"}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	defer offerer.Close()

	offer, err := offerer.CreateOffer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != "offer" || !strings.Contains(offer.SDP, "m=application") {
		t.Fatalf("offer = %+v", offer)
	}

	answerer, err := New(cfg, "host", false, Identity{UserID: "guest"}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	defer answerer.Close()

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}
	answer, err := answerer.CreateAnswer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != "answer" {
		t.Fatalf("answer type = %s", answer.Type)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}
}

func TestSetRemoteDescriptionRejectsUnknownType(t *testing.T) {
	c, err := New(&config.ClientConfig{}, "x", false, Identity{}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = c.SetRemoteDescription(negotiation.SessionDescription{Type: "pranswer-ish", SDP: "v=0"})
	if !errors.Is(err, negotiation.ErrUnexpectedDescription) {
		t.Fatalf("SetRemoteDescription = %v", err)
	}
}

func TestSendChatBeforeOpen(t *testing.T) {
	c, err := New(&config.ClientConfig{}, "x", true, Identity{}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.SendChat("too early"); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("SendChat = %v", err)
	}
}

func TestTunnelAndCGNATDetection(t *testing.T) {
	for _, name := range []string{"tun0", "wg0", "CloudflareWARP", "ppp0"} {
		if !tunnelInterface(name) {
			t.Errorf("%s not treated as a tunnel", name)
		}
	}
	if tunnelInterface("eth0") {
		t.Error("eth0 treated as a tunnel")
	}

	if !inCGNAT(&net.IPNet{IP: net.ParseIP("100.100.1.1")}) {
		t.Error("100.100.1.1 not in CGNAT range")
	}
	if inCGNAT(&net.IPAddr{IP: net.ParseIP("192.168.1.1")}) {
		t.Error("192.168.1.1 treated as CGNAT")
	}
}
