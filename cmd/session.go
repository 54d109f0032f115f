package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/negotiation"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/ui"
)

var errNoDirectLinks = errors.New("no direct links open yet")

// Session ties the signaling client, the negotiation mesh and the room view
// together for one joined room.
type Session struct {
	cfg    *config.ClientConfig
	roomID string
	url    string
	self   peer.Identity
	log    *slog.Logger

	client  *signaling.Client
	mesh    *negotiation.Mesh
	program *tea.Program

	mu    sync.Mutex
	conns map[string]*peer.Conn
}

// NewSession prepares a session. Nothing is dialed until Run.
func NewSession(ctx context.Context, cfg *config.ClientConfig, roomID string, self peer.Identity, host bool) (*Session, error) {
	url, err := cfg.RoomURL(roomID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		roomID: roomID,
		url:    url,
		self:   self,
		log:    slog.With("component", "session", "room", roomID),
		conns:  make(map[string]*peer.Conn),
	}

	s.client = signaling.NewClient(signaling.Options{
		URL:                  url,
		Join:                 &protocol.Join{UserID: self.UserID, UserName: self.UserName, IsHost: host},
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		PongGrace:            cfg.PongGrace,
		QueueSize:            cfg.QueueSize,
	})

	s.mesh = negotiation.NewMesh(ctx, negotiation.MeshConfig{
		Self:     self.UserID,
		Factory:  s.openPeer,
		Signaler: negotiation.SignalerFunc(s.signal),
		OnState: func(peerID string, st negotiation.State) {
			s.send(ui.PeerStateMsg{PeerID: peerID, State: st.String()})
		},
	})

	s.registerHandlers()
	return s, nil
}

func (s *Session) registerHandlers() {
	signaling.On(s.client, func(m protocol.RoomStatus) {
		ids := make([]string, 0, len(m.Participants))
		for _, p := range m.Participants {
			ids = append(ids, p.UserID)
		}
		s.mesh.SetParticipants(ids)
		s.send(ui.RoomStatusMsg(m))
	})

	signaling.On(s.client, func(m protocol.ParticipantJoined) {
		s.mesh.PeerJoined(m.UserID)
		s.send(ui.JoinedMsg(m))
	})

	signaling.On(s.client, func(m protocol.ParticipantLeft) {
		s.mesh.PeerLeft(m.UserID)
		s.dropConn(m.UserID)
		s.send(ui.LeftMsg(m))
	})

	signaling.On(s.client, func(m protocol.Signal) {
		if err := s.mesh.HandleSignal(m.Sender, m.Signal); err != nil {
			s.log.Warn("dropping signal", "from", m.Sender, "error", err)
		}
	})

	signaling.On(s.client, func(m protocol.ChatMessage) {
		s.send(ui.ChatMsg(m))
	})

	signaling.On(s.client, func(m protocol.Error) {
		s.send(ui.ServerErrorMsg(m))
	})

	signaling.On(s.client, func(m protocol.Kicked) {
		// Being kicked is final, so no reconnect.
		s.client.Close()
		s.send(ui.KickedMsg(m))
	})

	s.client.OnStateChange(func(st signaling.State) {
		switch st {
		case signaling.StateDisconnected, signaling.StateFailed, signaling.StateClosed:
			// The server has dropped us from the room; every link is renegotiated
			// from the next room_status.
			s.mesh.Reset()
			s.dropAllConns()
		}
		s.send(ui.ConnStateMsg(st.String()))
	})
}

// Run shows the room view until the user leaves, is kicked, or ctx ends.
func (s *Session) Run(ctx context.Context) error {
	model := ui.NewRoomModel(s.roomID, s.url, s.self.UserID, ui.Actions{
		Chat: func(text string) error {
			return s.client.SendMessage(protocol.ChatMessage{Text: text})
		},
		Direct: s.direct,
		Kick: func(id string) error {
			return s.client.SendMessage(protocol.KickParticipant{ParticipantID: id})
		},
		UpdateSettings: func(p protocol.UpdateSettings) error {
			return s.client.SendMessage(p)
		},
		Reconnect: s.client.Reconnect,
		Quit: func() {
			s.log.Info("leaving room")
		},
	})

	fmt.Println(ui.RoomInfoView(s.roomID, s.url))
	fmt.Println()

	s.program = tea.NewProgram(model, tea.WithContext(ctx))
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}

	_, err := s.program.Run()
	s.client.Close()
	s.mesh.Reset()
	s.dropAllConns()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) send(msg tea.Msg) {
	if s.program != nil {
		s.program.Send(msg)
	}
}

func (s *Session) signal(target string, p negotiation.Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.SendMessage(protocol.Signal{Target: target, Signal: raw})
}

// openPeer is the mesh factory. Callbacks from a connection that has since
// been replaced are ignored.
func (s *Session) openPeer(peerID string, initiator bool) (negotiation.PeerConnection, error) {
	var conn *peer.Conn
	current := func() (*negotiation.Coordinator, bool) {
		s.mu.Lock()
		live := conn != nil && s.conns[peerID] == conn
		s.mu.Unlock()
		if !live {
			return nil, false
		}
		return s.mesh.Peer(peerID)
	}

	conn, err := peer.New(s.cfg, peerID, initiator, s.self, peer.Handlers{
		OnCandidate: func(c negotiation.Candidate) {
			if co, ok := current(); ok {
				co.AddLocalCandidate(c)
			}
		},
		OnConnected: func() {
			s.send(ui.NoticeMsg(fmt.Sprintf("direct link to %s is up", peerID)))
		},
		OnDisconnected: func() {
			if _, ok := current(); !ok {
				return
			}
			s.send(ui.NoticeMsg(fmt.Sprintf("direct link to %s dropped, renegotiating", peerID)))
			if err := s.mesh.Restart(peerID); err != nil {
				s.log.Warn("restart negotiation", "peer", peerID, "error", err)
			}
		},
		OnHello: func(h peer.HelloPayload) {
			s.log.Debug("peer hello", "peer", peerID, "name", h.UserName, "version", h.Version)
		},
		OnChat: func(m peer.ChatPayload) {
			s.send(ui.DirectMsg{From: peerID, Text: m.Text, At: time.UnixMilli(m.SentAt)})
		},
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conns[peerID] = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Session) direct(text string) (int, error) {
	s.mu.Lock()
	conns := slices.Collect(maps.Values(s.conns))
	s.mu.Unlock()

	sent := 0
	var errs []error
	for _, c := range conns {
		if !c.Open() {
			continue
		}
		if err := c.SendChat(text); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) == 0 {
		return 0, errNoDirectLinks
	}
	return sent, errors.Join(errs...)
}

func (s *Session) dropConn(peerID string) {
	s.mu.Lock()
	delete(s.conns, peerID)
	s.mu.Unlock()
}

func (s *Session) dropAllConns() {
	s.mu.Lock()
	clear(s.conns)
	s.mu.Unlock()
}
