package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/server"
	"github.com/BioHazard786/huddle/internal/ui"
)

var (
	flagAddr    string
	flagMax     int
	flagOrigins string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room server",
	Long: `Run the room server. Clients connect to /ws/{roomID}.

Examples:
  huddle serve
  huddle serve --addr :9000 --max 8
  huddle serve --origins https://huddle.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.InitWithDefault(slog.LevelInfo)

		cfg, err := config.LoadServer(config.ServerOptions{
			Addr:            flagAddr,
			MaxParticipants: flagMax,
			AllowedOrigins:  flagOrigins,
		})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(server.Config{
			Addr:            cfg.Addr,
			MaxParticipants: cfg.MaxParticipants,
			AllowedOrigins:  cfg.AllowedOrigins,
		})
		ui.PrintSuccessf("%s Listening on %s (max %d per room)", ui.IconServer, cfg.Addr, cfg.MaxParticipants)
		if len(cfg.AllowedOrigins) > 0 {
			ui.PrintInfof("Allowed origins: %s", strings.Join(cfg.AllowedOrigins, ", "))
		}
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
	serveCmd.Flags().IntVarP(&flagMax, "max", "m", 0, "Default participant limit for new rooms")
	serveCmd.Flags().StringVar(&flagOrigins, "origins", "", "Comma separated list of allowed browser origins")
}
