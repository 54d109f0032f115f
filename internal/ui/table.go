package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/huddle/internal/protocol"
)

// ParticipantRow is one line of the participant table.
type ParticipantRow struct {
	ID          string
	Name        string
	Host        bool
	Self        bool
	Negotiation string
}

// ParticipantTable renders participants in join order.
func ParticipantTable(rows []ParticipantRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(prettytable.Row{"#", "Name", "ID", "Role", "Link"})
	for i, r := range rows {
		name := r.Name
		if name == "" {
			name = "-"
		}
		if r.Self {
			name += " (you)"
		}
		role := "guest"
		if r.Host {
			role = IconHost + " host"
		}
		link := r.Negotiation
		if r.Self || link == "" {
			link = "-"
		}
		t.AppendRow(prettytable.Row{i + 1, name, truncate(r.ID, 12), role, link})
	}
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})
	return t.Render()
}

// SettingsView renders room settings as a two column table.
func SettingsView(s protocol.Settings) string {
	rows := [][]string{
		{"Chat", onOff(s.AllowChat)},
		{"Locked", onOff(s.IsLocked)},
		{"Max participants", strconv.Itoa(s.MaxParticipants)},
		{"Audio", onOff(s.AudioEnabled)},
		{"Video", onOff(s.VideoEnabled)},
		{"Screen share", onOff(s.AllowScreenShare)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Setting", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

// RoomInfoView is the banner shown once the room is joined.
func RoomInfoView(roomID, url string) string {
	content := fmt.Sprintf("%s Room %s\n%s %s",
		IconRoom, TitleStyle.UnsetMarginBottom().Render(roomID),
		IconServer, MutedStyle.Render(url),
	)
	return BoxStyle.Render(content)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
