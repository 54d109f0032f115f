package room

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/BioHazard786/huddle/internal/protocol"
)

func newTestRegistry(max int) *Registry {
	return NewRegistry(DefaultSettings(max))
}

func participant(id string) Participant {
	return Participant{ID: id, DisplayName: "name-" + id}
}

func ids(room *Room) []string {
	var out []string
	for _, p := range room.Participants() {
		out = append(out, p.ID)
	}
	return out
}

func hosts(room *Room) []string {
	var out []string
	for _, p := range room.Participants() {
		if p.IsHost {
			out = append(out, p.ID)
		}
	}
	return out
}

func TestJoinCreatesRoomOnlyForHost(t *testing.T) {
	r := newTestRegistry(4)

	if _, err := r.Join("ABC", participant("guest"), false); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("guest join of missing room: err = %v, want ErrRoomNotFound", err)
	}
	if r.Len() != 0 {
		t.Fatalf("failed join created a room")
	}

	room, err := r.Join("ABC", participant("host"), true)
	if err != nil {
		t.Fatalf("host join: %v", err)
	}
	if room.HostID != "host" {
		t.Errorf("HostID = %q, want host", room.HostID)
	}
	if got := hosts(room); !reflect.DeepEqual(got, []string{"host"}) {
		t.Errorf("hosts = %v", got)
	}
	if room.Settings != DefaultSettings(4) {
		t.Errorf("settings = %+v", room.Settings)
	}
}

func TestJoinExistingRoomNeverGrantsHost(t *testing.T) {
	r := newTestRegistry(4)
	r.Join("ABC", participant("host"), true)

	room, err := r.Join("ABC", participant("second"), true)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := hosts(room); !reflect.DeepEqual(got, []string{"host"}) {
		t.Fatalf("hosts = %v, want [host]", got)
	}
}

func TestJoinFailures(t *testing.T) {
	testCases := []struct {
		name   string
		setup  func(r *Registry)
		joiner string
		asHost bool
		want   error
	}{
		{
			name:   "duplicate participant",
			setup:  func(r *Registry) { r.Join("ABC", participant("a"), true) },
			joiner: "a",
			want:   ErrDuplicateParticipant,
		},
		{
			name: "room full",
			setup: func(r *Registry) {
				r.Join("ABC", participant("a"), true)
				r.Join("ABC", participant("b"), false)
			},
			joiner: "c",
			want:   ErrRoomFull,
		},
		{
			name: "room locked",
			setup: func(r *Registry) {
				r.Join("ABC", participant("a"), true)
				r.UpdateSettings("ABC", "a", protocol.UpdateSettings{IsLocked: ptr(true)})
			},
			joiner: "b",
			want:   ErrRoomLocked,
		},
		{
			name: "room locked, claiming host without being creator",
			setup: func(r *Registry) {
				r.Join("ABC", participant("a"), true)
				r.UpdateSettings("ABC", "a", protocol.UpdateSettings{IsLocked: ptr(true)})
			},
			joiner: "b",
			asHost: true,
			want:   ErrRoomLocked,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(2)
			tc.setup(r)
			before, _ := r.Snapshot("ABC")

			_, err := r.Join("ABC", participant(tc.joiner), tc.asHost)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}

			var rerr *Error
			if !errors.As(err, &rerr) || rerr.Op != "join" || rerr.RoomID != "ABC" {
				t.Errorf("err = %#v, want *Error{Op: join, RoomID: ABC}", err)
			}

			after, _ := r.Snapshot("ABC")
			if !reflect.DeepEqual(before, after) {
				t.Errorf("failed join mutated state:\n before %+v\n after  %+v", before, after)
			}
		})
	}
}

func TestLockedRoomAdmitsCreatorBack(t *testing.T) {
	r := newTestRegistry(3)
	r.Join("ABC", participant("a"), true)
	r.Join("ABC", participant("b"), false)
	r.UpdateSettings("ABC", "a", protocol.UpdateSettings{IsLocked: ptr(true)})
	r.Leave("ABC", "a")

	room, err := r.Join("ABC", participant("a"), true)
	if err != nil {
		t.Fatalf("creator rejoin: %v", err)
	}
	if room.HostID != "b" {
		t.Errorf("HostID = %q, want b (authority is not reclaimed)", room.HostID)
	}
}

func TestLeaveTransfersHostToEarliestJoiner(t *testing.T) {
	r := newTestRegistry(5)
	for i, id := range []string{"a", "b", "c", "d"} {
		r.Join("ABC", participant(id), i == 0)
	}
	r.Leave("ABC", "b")

	res := r.Leave("ABC", "a")
	if res.Participant == nil || res.Participant.ID != "a" {
		t.Fatalf("removed = %+v, want a", res.Participant)
	}
	if res.NewHostID != "c" {
		t.Fatalf("NewHostID = %q, want c", res.NewHostID)
	}

	room, _ := r.Room("ABC")
	if got := hosts(room); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("hosts = %v, want [c]", got)
	}
	if got := ids(room); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Errorf("order = %v, want [c d]", got)
	}
}

func TestLeaveLastParticipantDeletesRoom(t *testing.T) {
	r := newTestRegistry(2)
	r.Join("ABC", participant("a"), true)

	res := r.Leave("ABC", "a")
	if !res.RoomDeleted {
		t.Fatal("RoomDeleted = false")
	}
	if _, ok := r.Room("ABC"); ok {
		t.Fatal("room still exists")
	}
	if _, ok := r.Snapshot("ABC"); ok {
		t.Fatal("snapshot of deleted room")
	}
}

func TestLeaveUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(2)
	r.Join("ABC", participant("a"), true)

	if res := r.Leave("nope", "a"); res.Participant != nil {
		t.Errorf("leave of unknown room removed %+v", res.Participant)
	}
	if res := r.Leave("ABC", "ghost"); res.Participant != nil {
		t.Errorf("leave of unknown participant removed %+v", res.Participant)
	}
	if room, _ := r.Room("ABC"); room.Len() != 1 {
		t.Errorf("Len = %d", room.Len())
	}
}

func TestKick(t *testing.T) {
	testCases := []struct {
		name   string
		caller string
		target string
		want   error
	}{
		{"non-host", "b", "c", ErrNotAuthorized},
		{"self kick", "a", "a", ErrSelfKick},
		{"missing target", "a", "zed", ErrParticipantNotFound},
		{"ok", "a", "b", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(3)
			r.Join("ABC", participant("a"), true)
			r.Join("ABC", participant("b"), false)
			r.Join("ABC", participant("c"), false)
			before, _ := r.Snapshot("ABC")

			kicked, err := r.Kick("ABC", tc.caller, tc.target)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}

			after, _ := r.Snapshot("ABC")
			if tc.want != nil {
				if !reflect.DeepEqual(before, after) {
					t.Errorf("failed kick mutated state")
				}
				return
			}
			if kicked.ID != tc.target {
				t.Errorf("kicked %q, want %q", kicked.ID, tc.target)
			}
			if len(after.Participants) != 2 || after.HostID != "a" {
				t.Errorf("after kick: %+v", after)
			}
		})
	}
}

func TestKickMissingRoom(t *testing.T) {
	r := newTestRegistry(2)
	if _, err := r.Kick("ABC", "a", "b"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	r := newTestRegistry(2)
	r.Join("ABC", participant("a"), true)
	r.Join("ABC", participant("b"), false)

	if _, err := r.UpdateSettings("ABC", "b", protocol.UpdateSettings{AllowChat: ptr(false)}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("guest update: err = %v", err)
	}
	if _, err := r.UpdateSettings("nope", "a", protocol.UpdateSettings{}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room: err = %v", err)
	}

	got, err := r.UpdateSettings("ABC", "a", protocol.UpdateSettings{AllowChat: ptr(false), MaxParticipants: ptr(6)})
	if err != nil {
		t.Fatalf("host update: %v", err)
	}
	want := DefaultSettings(2)
	want.AllowChat = false
	want.MaxParticipants = 6
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

func TestSnapshotJoinOrder(t *testing.T) {
	r := newTestRegistry(3)
	r.Join("ABC", participant("a"), true)
	r.Join("ABC", participant("b"), false)
	r.Join("ABC", participant("c"), false)

	snap, ok := r.Snapshot("ABC")
	if !ok {
		t.Fatal("no snapshot")
	}
	want := []protocol.Participant{
		{UserID: "a", UserName: "name-a", IsHost: true},
		{UserID: "b", UserName: "name-b"},
		{UserID: "c", UserName: "name-c"},
	}
	if !reflect.DeepEqual(snap.Participants, want) {
		t.Fatalf("participants = %+v", snap.Participants)
	}
	if snap.RoomID != "ABC" || snap.HostID != "a" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// TestRandomSequencesKeepInvariants drives the registry with random
// operations and checks the membership and host invariants after each step.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 200; run++ {
		r := newTestRegistry(1 + rng.IntN(5))
		joined := 0
		removed := 0
		var order []string // expected join order of current members

		for step := 0; step < 40; step++ {
			id := fmt.Sprintf("p%d", rng.IntN(8))
			switch rng.IntN(3) {
			case 0:
				if _, err := r.Join("R", participant(id), rng.IntN(2) == 0); err == nil {
					joined++
					order = append(order, id)
				}
			case 1:
				room, ok := r.Room("R")
				wasHost := ok && room.HostID == id
				res := r.Leave("R", id)
				if res.Participant != nil {
					removed++
					order = without(order, id)
					if wasHost && len(order) > 0 && res.NewHostID != order[0] {
						t.Fatalf("run %d step %d: host moved to %q, want %q", run, step, res.NewHostID, order[0])
					}
				}
			case 2:
				room, ok := r.Room("R")
				if !ok {
					continue
				}
				if _, err := r.Kick("R", room.HostID, id); err == nil {
					removed++
					order = without(order, id)
				}
			}

			room, ok := r.Room("R")
			if !ok {
				if len(order) != 0 {
					t.Fatalf("run %d step %d: room gone with members %v", run, step, order)
				}
				continue
			}
			if room.Len() != joined-removed {
				t.Fatalf("run %d step %d: Len = %d, want %d", run, step, room.Len(), joined-removed)
			}
			if room.Len() == 0 {
				t.Fatalf("run %d step %d: empty room exists", run, step)
			}
			if h := hosts(room); len(h) != 1 || h[0] != room.HostID {
				t.Fatalf("run %d step %d: hosts = %v, HostID = %q", run, step, h, room.HostID)
			}
			if got := ids(room); !reflect.DeepEqual(got, order) {
				t.Fatalf("run %d step %d: order = %v, want %v", run, step, got, order)
			}
		}
	}
}

func without(s []string, id string) []string {
	out := s[:0:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
