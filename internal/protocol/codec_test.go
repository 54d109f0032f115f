package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// TestEncodeDecodeRoundTrip verifies that decoding an encoded envelope yields
// the same type and data for every message kind.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{"join", Join{UserID: "u1", UserName: "Ada", IsHost: true}},
		{"update settings", UpdateSettings{AllowChat: boolPtr(false), MaxParticipants: intPtr(4)}},
		{"kick", KickParticipant{ParticipantID: "u2"}},
		{"chat from client", ChatMessage{Text: "hi"}},
		{"chat relayed", ChatMessage{Text: "hi", Sender: "u1", SenderName: "Ada", Timestamp: 1700000000000}},
		{"signal", Signal{Target: "u2", Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}},
		{"ping", Ping{}},
		{"pong", Pong{}},
		{"room status", RoomStatus{
			RoomID: "ABC",
			HostID: "u1",
			Participants: []Participant{
				{UserID: "u1", UserName: "Ada", IsHost: true},
				{UserID: "u2", UserName: "Bob"},
			},
			Settings: Settings{AllowChat: true, MaxParticipants: 2},
		}},
		{"participant joined", ParticipantJoined{UserID: "u2", UserName: "Bob"}},
		{"participant left", ParticipantLeft{UserID: "u1", HostID: "u2"}},
		{"kicked", Kicked{Reason: "removed by host"}},
		{"error", Error{Message: "room is full", Code: "capacity"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Type() != tc.msg.Type() {
				t.Errorf("Type mismatch: got %s, want %s", decoded.Type(), tc.msg.Type())
			}
			if !reflect.DeepEqual(decoded, tc.msg) {
				t.Errorf("Data mismatch:\n got  %#v\n want %#v", decoded, tc.msg)
			}
		})
	}
}

func TestEncodeWritesEnvelopeShape(t *testing.T) {
	b := MustEncode(KickParticipant{ParticipantID: "u2"})

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("not a JSON object: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("envelope has %d keys, want 2: %s", len(raw), b)
	}
	if string(raw["type"]) != `"kick_participant"` {
		t.Errorf("type = %s", raw["type"])
	}
	if string(raw["data"]) != `{"participantId":"u2"}` {
		t.Errorf("data = %s", raw["data"])
	}
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `{{`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"missing type", `{"data":{}}`, ErrMalformed},
		{"unknown type", `{"type":"teleport","data":{}}`, ErrUnknownType},
		{"data wrong shape", `{"type":"join","data":"alice"}`, ErrMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.input))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode(%s) error = %v, want %v", tc.input, err, tc.want)
			}
		})
	}
}

func TestDecodeMissingDataIsZeroValue(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := msg.(Ping); !ok {
		t.Fatalf("got %T, want Ping", msg)
	}
}

func TestDecodeIgnoresUnknownSettingKeys(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"update_settings","data":{"isLocked":true,"theme":"dark"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	patch := msg.(UpdateSettings)
	if patch.IsLocked == nil || !*patch.IsLocked {
		t.Fatalf("isLocked not decoded: %#v", patch)
	}
	if patch.AllowChat != nil || patch.MaxParticipants != nil {
		t.Fatalf("unexpected fields set: %#v", patch)
	}
}

func TestUpdateSettingsApply(t *testing.T) {
	base := Settings{AllowChat: true, AudioEnabled: true, MaxParticipants: 2}

	got := UpdateSettings{AllowChat: boolPtr(false), MaxParticipants: intPtr(0)}.Apply(base)

	want := Settings{AllowChat: false, AudioEnabled: true, MaxParticipants: 2}
	if got != want {
		t.Fatalf("Apply = %+v, want %+v", got, want)
	}
}
