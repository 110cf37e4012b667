package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repoferry/internal/control"
	"repoferry/internal/flags"
	"repoferry/internal/output"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control panel",
	Long: `Serve a small HTTP API for driving migrations remotely:

  POST /api/transfer   start a transfer run (409 while one is active)
  POST /api/refresh    start a sync-check run (409 while one is active)
  GET  /api/status     current run state and the latest run's events

The API carries no authentication; bind it to localhost or put it behind a
reverse proxy that does.

Examples:
  repoferry serve --addr 127.0.0.1:8477
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runServeCommand())
	},
}

func runServeCommand() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return failf(err)
	}
	defer a.logger.Sync()

	events := control.NewEventLog(0)

	runTransfer := func(runCtx context.Context) error {
		manager := output.NewManager(a.logger)
		if err := manager.AddSink(events); err != nil {
			return err
		}
		if code := runMigration(runCtx, a, manager, false); code == exitFatal {
			return fmt.Errorf("transfer run failed fatally")
		}
		return nil
	}
	runRefresh := func(runCtx context.Context) error {
		manager := output.NewManager(a.logger)
		if err := manager.AddSink(events); err != nil {
			return err
		}
		if code := runCheck(runCtx, a, manager); code == exitFatal {
			return fmt.Errorf("sync-check run failed fatally")
		}
		return nil
	}

	server := control.NewServer(serveAddr, runTransfer, runRefresh, events, a.logger)
	if err := server.ListenAndServe(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitDirty
	}
	return exitClean
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, flags.FlagAddr, "127.0.0.1:8477", "Listen address for the control panel")
}
