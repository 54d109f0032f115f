package ui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/huddle/internal/protocol"
)

const maxLogLines = 200

// Actions are invoked by the room view in response to input. They run as
// bubbletea commands, off the update loop.
type Actions struct {
	Chat           func(text string) error
	Direct         func(text string) (int, error)
	Kick           func(participantID string) error
	UpdateSettings func(protocol.UpdateSettings) error
	Reconnect      func() error
	Quit           func()
}

// Messages fed into the room view by the session.
type (
	ConnStateMsg   string
	RoomStatusMsg  protocol.RoomStatus
	JoinedMsg      protocol.ParticipantJoined
	LeftMsg        protocol.ParticipantLeft
	ChatMsg        protocol.ChatMessage
	ServerErrorMsg protocol.Error
	KickedMsg      protocol.Kicked
	NoticeMsg      string
)

// PeerStateMsg reports the negotiation state with one peer.
type PeerStateMsg struct {
	PeerID string
	State  string
}

// DirectMsg is a message received over a peer data channel.
type DirectMsg struct {
	From string
	Text string
	At   time.Time
}

type actionResultMsg struct {
	notice string
	err    error
}

// RoomModel is the interactive view of one joined room.
type RoomModel struct {
	roomID  string
	url     string
	selfID  string
	actions Actions

	conn         string
	status       protocol.RoomStatus
	peers        map[string]string
	log          []string
	showSettings bool
	quitting     bool

	input   textinput.Model
	spinner spinner.Model
	height  int
}

// NewRoomModel returns the view for roomID as participant selfID.
func NewRoomModel(roomID, url, selfID string, actions Actions) *RoomModel {
	ti := textinput.New()
	ti.Placeholder = "message or /help"
	ti.CharLimit = 2000
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		roomID:  roomID,
		url:     url,
		selfID:  selfID,
		actions: actions,
		conn:    "connecting",
		peers:   make(map[string]string),
		input:   ti,
		spinner: s,
	}
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, m.quit()
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			return m, m.submit(line)
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ConnStateMsg:
		prev := m.conn
		m.conn = string(msg)
		switch m.conn {
		case "connected":
			if prev != "connected" {
				m.logf("%s %s", IconConnect, SuccessStyle.Render("connected to room server"))
			}
		case "failed":
			m.logf("%s %s", IconError, ErrorStyle.Render("connection failed, type /reconnect to try again"))
		case "disconnected":
			// The server dropped us from the room; the next room_status rebuilds it.
			m.status.Participants = nil
			m.status.HostID = ""
			clear(m.peers)
		}
		return m, nil

	case RoomStatusMsg:
		m.status = protocol.RoomStatus(msg)
		m.prunePeers()
		return m, nil

	case JoinedMsg:
		m.status.Participants = append(m.status.Participants, protocol.Participant{UserID: msg.UserID, UserName: msg.UserName})
		m.logf("%s %s joined", IconPeer, m.nameOf(msg.UserID))
		return m, nil

	case LeftMsg:
		name := m.nameOf(msg.UserID)
		m.status.Participants = slices.DeleteFunc(m.status.Participants, func(p protocol.Participant) bool {
			return p.UserID == msg.UserID
		})
		delete(m.peers, msg.UserID)
		m.logf("%s %s left", IconPeer, name)
		if msg.HostID != "" && msg.HostID != m.status.HostID {
			m.setHost(msg.HostID)
			m.logf("%s %s is now the host", IconHost, m.nameOf(msg.HostID))
		}
		return m, nil

	case ChatMsg:
		m.logf("%s %s %s %s", MutedStyle.Render(clock(msg.Timestamp)), IconChat, BoldStyle.Render(m.senderName(msg)+":"), msg.Text)
		return m, nil

	case DirectMsg:
		m.logf("%s %s %s", MutedStyle.Render(msg.At.Format("15:04")), BoldStyle.Foreground(Secondary).Render(m.nameOf(msg.From)+" "+IconDirect), msg.Text)
		return m, nil

	case PeerStateMsg:
		m.peers[msg.PeerID] = msg.State
		return m, nil

	case ServerErrorMsg:
		m.logf("%s %s", IconError, ErrorStyle.Render(msg.Message))
		return m, nil

	case KickedMsg:
		reason := msg.Reason
		if reason == "" {
			reason = "removed by host"
		}
		m.logf("%s kicked: %s", IconError, reason)
		m.quitting = true
		return m, tea.Quit

	case NoticeMsg:
		m.logf("%s %s", IconInfo, string(msg))
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.logf("%s %s", IconError, ErrorStyle.Render(msg.err.Error()))
		} else if msg.notice != "" {
			m.logf("%s %s", IconInfo, msg.notice)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *RoomModel) submit(line string) tea.Cmd {
	c, err := ParseCommand(line)
	if err != nil {
		if err == ErrEmptyInput {
			return nil
		}
		m.logf("%s %s", IconWarning, WarningStyle.Render(err.Error()))
		return nil
	}

	switch c.Kind {
	case CmdChat:
		return m.run(func() (string, error) { return "", call(m.actions.Chat, c.Text) })
	case CmdDirect:
		m.logf("%s %s %s", MutedStyle.Render(time.Now().Format("15:04")), BoldStyle.Foreground(Secondary).Render("you "+IconDirect), c.Text)
		return m.run(func() (string, error) {
			if m.actions.Direct == nil {
				return "", nil
			}
			n, err := m.actions.Direct(c.Text)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("sent directly to %d peer(s)", n), nil
		})
	case CmdKick:
		return m.run(func() (string, error) { return "", call(m.actions.Kick, c.Target) })
	case CmdSettings:
		return m.run(func() (string, error) { return "", call(m.actions.UpdateSettings, c.Patch) })
	case CmdReconnect:
		return m.run(func() (string, error) {
			if m.actions.Reconnect == nil {
				return "", nil
			}
			return "reconnecting", m.actions.Reconnect()
		})
	case CmdShowSettings:
		m.showSettings = !m.showSettings
	case CmdHelp:
		for _, l := range strings.Split(helpText, "\n") {
			m.logf("%s", MutedStyle.Render(l))
		}
	case CmdQuit:
		return m.quit()
	}
	return nil
}

func (m *RoomModel) run(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		notice, err := fn()
		return actionResultMsg{notice: notice, err: err}
	}
}

func (m *RoomModel) quit() tea.Cmd {
	m.quitting = true
	if m.actions.Quit != nil {
		m.actions.Quit()
	}
	return tea.Quit
}

func call[T any](fn func(T) error, arg T) error {
	if fn == nil {
		return nil
	}
	return fn(arg)
}

func (m *RoomModel) View() string {
	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s huddle · %s", IconRoom, m.roomID))
	state := Badge(m.conn)
	if m.conn == "connecting" {
		state = m.spinner.View() + " " + state
	}
	b.WriteString(header + " " + state + "\n")
	b.WriteString(MutedStyle.Render(m.url) + "\n\n")

	b.WriteString(ParticipantTable(m.Rows()) + "\n")
	if m.showSettings {
		b.WriteString(SettingsView(m.status.Settings) + "\n")
	}
	if !m.status.Settings.AllowChat && len(m.status.Participants) > 0 {
		b.WriteString(WarningStyle.Render(IconLock+" room chat is off, /dm still works") + "\n")
	}
	b.WriteString("\n")

	for _, l := range m.visibleLog() {
		b.WriteString(l + "\n")
	}

	if m.quitting {
		return b.String()
	}
	b.WriteString("\n" + m.input.View() + "\n")
	b.WriteString(FooterStyle.Render("enter send · /help commands · ctrl+c leave"))
	return b.String()
}

// Rows returns the participant table rows in join order.
func (m *RoomModel) Rows() []ParticipantRow {
	rows := make([]ParticipantRow, 0, len(m.status.Participants))
	for _, p := range m.status.Participants {
		rows = append(rows, ParticipantRow{
			ID:          p.UserID,
			Name:        p.UserName,
			Host:        p.UserID == m.status.HostID,
			Self:        p.UserID == m.selfID,
			Negotiation: m.peers[p.UserID],
		})
	}
	return rows
}

// Log returns the rendered log lines.
func (m *RoomModel) Log() []string {
	return slices.Clone(m.log)
}

func (m *RoomModel) visibleLog() []string {
	n := 12
	if m.height > 0 {
		n = max(m.height-len(m.status.Participants)-14, 3)
	}
	if len(m.log) <= n {
		return m.log
	}
	return m.log[len(m.log)-n:]
}

func (m *RoomModel) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > maxLogLines {
		m.log = slices.Delete(m.log, 0, len(m.log)-maxLogLines)
	}
}

func (m *RoomModel) setHost(id string) {
	m.status.HostID = id
	for i := range m.status.Participants {
		m.status.Participants[i].IsHost = m.status.Participants[i].UserID == id
	}
}

func (m *RoomModel) prunePeers() {
	for id := range m.peers {
		if !slices.ContainsFunc(m.status.Participants, func(p protocol.Participant) bool { return p.UserID == id }) {
			delete(m.peers, id)
		}
	}
}

func (m *RoomModel) nameOf(id string) string {
	for _, p := range m.status.Participants {
		if p.UserID == id && p.UserName != "" {
			return p.UserName
		}
	}
	return id
}

func (m *RoomModel) senderName(c ChatMsg) string {
	if c.SenderName != "" {
		return c.SenderName
	}
	return m.nameOf(c.Sender)
}

func clock(ms int64) string {
	if ms == 0 {
		return time.Now().Format("15:04")
	}
	return time.UnixMilli(ms).Format("15:04")
}
