package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/version"
)

var (
	flagServer   string
	flagName     string
	flagUserID   string
	flagHost     bool
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room on a huddle server and open direct links to everyone in it.

Pass --host to create the room. Joining a room that does not exist fails.

Examples:
  huddle join ABC --host --name ada
  huddle join ABC --name lin --server wss://huddle.example.com
  huddle join ABC --relay --turn turn.example.com:3478 --turn-user u --turn-pass p`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := strings.TrimSpace(args[0])
		if err := protocol.ValidateRoomID(roomID); err != nil {
			return fmt.Errorf("room %q: %w", roomID, err)
		}

		cfg, err := LoadConfig(config.ClientOptions{
			Server:     flagServer,
			STUNServer: flagSTUN,
			TURNServer: flagTURN,
			TURNUser:   flagTURNUser,
			TURNPass:   flagTURNPass,
			ForceRelay: flagRelay,
		})
		if err != nil {
			return err
		}

		self := peer.Identity{
			UserID:   flagUserID,
			UserName: flagName,
			Version:  version.Version,
		}
		if self.UserID == "" {
			self.UserID = uuid.NewString()
		}
		if self.UserName == "" {
			self.UserName = defaultName()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := NewSession(ctx, cfg, roomID, self, flagHost)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	},
}

// LoadConfig loads client configuration and checks the relay settings.
func LoadConfig(opts config.ClientOptions) (*config.ClientConfig, error) {
	cfg, err := config.LoadClient(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "guest"
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVar(&flagServer, "server", "", "Server URL (default ws://localhost:8080)")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagUserID, "id", "", "Participant id (default random)")
	joinCmd.Flags().BoolVar(&flagHost, "host", false, "Create the room and become its host")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
