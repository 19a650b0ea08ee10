package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/audiocomments/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the audiocomments web server to control recording and playback over HTTP.
Session events are streamed on /events as JSON over a websocket and metrics are
exported on /metrics.

The server will display the local network URL for easy access from other devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		mdns, _ := cmd.Flags().GetBool("mdns")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ls, err := startSession()
		if err != nil {
			return err
		}
		defer func() {
			if err := ls.stop(); err != nil {
				slog.Warn("Session did not shut down cleanly", "error", err)
			}
		}()

		slog.Info("audiocomments web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		srv := server.New(ls.svc, port, server.WithMDNS(mdns))
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
	serveCmd.Flags().Bool("mdns", false, "advertise the server on the local network via mDNS")
}
