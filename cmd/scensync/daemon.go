package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openplanning/scensync/internal/daemon"
	"github.com/openplanning/scensync/internal/dashboard"
	"github.com/openplanning/scensync/internal/model"
)

var daemonDashboard bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch bundle files and keep the store in sync",
	Long: `Run the sync daemon: watch the scenarios directory for bundle file
changes and re-import changed bundles into the store.

With --dashboard, also serve the WebSocket dashboard broadcasting sync
events to connected clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var server *dashboard.Server
		if daemonDashboard {
			server = dashboard.NewServer(&dashboard.Config{Port: cfg.DashboardPort})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			fmt.Printf("Dashboard: ws://%s/ws\n", server.Addr())
		}

		opts := daemon.Options{
			ScenarioRoot: filepath.Join(cfg.RepoDir, "scenarios"),
			LogPath:      cfg.DaemonLogPath,
		}
		if server != nil {
			opts.OnSync = func(scenarioID string, t model.EntityType, count int) {
				server.NotifyBundleSynced(dashboard.BundleSyncedData{
					ScenarioID:  scenarioID,
					EntityType:  t.String(),
					RecordCount: count,
				})
			}
		}

		if err := os.MkdirAll(opts.ScenarioRoot, 0o755); err != nil {
			return err
		}

		d, err := daemon.New(s, opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s (ctrl-c to stop)\n", opts.ScenarioRoot)
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonDashboard, "dashboard", false,
		"serve the WebSocket dashboard")
}
