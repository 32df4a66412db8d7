// Command wormholed is the per-machine daemon: it owns every open session,
// fans their events out over websocket, advertises itself on the local
// network, and answers the companion wormhole CLI over a Unix socket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wormhole/internal/config"
	"github.com/ehrlich-b/wormhole/internal/daemon"
	wormholelog "github.com/ehrlich-b/wormhole/internal/logger"
)

func main() {
	var configPath string
	var logFile string
	var logLevel string

	root := &cobra.Command{
		Use:   "wormholed",
		Short: "Run the wormhole daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wormholelog.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			path := configPath
			if path == "" {
				resolved, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				path = resolved
			}

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return daemon.Run(context.Background(), cfg, slog.Default())
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to config.toml (default: $WORMHOLE_CONFIG or ~/.config/wormhole/config.toml)")
	root.Flags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
