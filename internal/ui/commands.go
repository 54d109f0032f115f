package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BioHazard786/huddle/internal/protocol"
)

var ErrEmptyInput = errors.New("nothing to send")

// CommandKind says what a line typed in the room view asks for.
type CommandKind int

const (
	CmdChat CommandKind = iota
	CmdDirect
	CmdKick
	CmdSettings
	CmdReconnect
	CmdShowSettings
	CmdHelp
	CmdQuit
)

// Command is a parsed input line.
type Command struct {
	Kind   CommandKind
	Text   string
	Target string
	Patch  protocol.UpdateSettings
}

const helpText = `/kick <id>      remove a participant (host)
/lock, /unlock  lock or unlock the room (host)
/chat on|off    allow or block room chat (host)
/max <n>        set the participant limit (host)
/settings       show room settings
/dm <text>      send over the direct peer links
/reconnect      reconnect to the server now
/quit           leave the room`

// ParseCommand turns an input line into a Command. Lines not starting with a
// slash are room chat.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmptyInput
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdChat, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "kick":
		if rest == "" {
			return Command{}, fmt.Errorf("usage: /kick <id>")
		}
		return Command{Kind: CmdKick, Target: rest}, nil
	case "lock", "unlock":
		locked := strings.EqualFold(name, "lock")
		return Command{Kind: CmdSettings, Patch: protocol.UpdateSettings{IsLocked: &locked}}, nil
	case "chat":
		var allow bool
		switch strings.ToLower(rest) {
		case "on":
			allow = true
		case "off":
		default:
			return Command{}, fmt.Errorf("usage: /chat on|off")
		}
		return Command{Kind: CmdSettings, Patch: protocol.UpdateSettings{AllowChat: &allow}}, nil
	case "max":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("usage: /max <n> with n >= 1")
		}
		return Command{Kind: CmdSettings, Patch: protocol.UpdateSettings{MaxParticipants: &n}}, nil
	case "dm":
		if rest == "" {
			return Command{}, fmt.Errorf("usage: /dm <text>")
		}
		return Command{Kind: CmdDirect, Text: rest}, nil
	case "settings":
		return Command{Kind: CmdShowSettings}, nil
	case "reconnect":
		return Command{Kind: CmdReconnect}, nil
	case "help", "?":
		return Command{Kind: CmdHelp}, nil
	case "quit", "exit", "q":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, fmt.Errorf("unknown command /%s, try /help", name)
	}
}
