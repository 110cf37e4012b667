package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repoferry/internal/flags"
	"repoferry/internal/output"
	"repoferry/internal/transfer"
)

var migrateFlags struct {
	dryRun        bool
	consoleFormat string
	noConsole     bool
	out           string
	outFormat     string
	report        string
	emit          string
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Transfer configured repositories to the target platform",
	Long: `Transfer every configured repository mapping: mirror-clone the source
project, create (or reuse) the target repository, push the selected refs,
attach the provenance topic, and apply collaborator and team grants.

Mapping failures are isolated: the run continues with the next mapping and
reports everything at the end. Only configuration and credential problems
abort the run.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown summary
	- --no-console: suppress the console sink

Exit codes:
	0 = every mapping transferred (or skipped by --dry-run)
	1 = one or more mappings failed
	3 = fatal error (nothing was transferred)

Examples:
  # Preview without mutating either platform
  repoferry migrate --dry-run

  # Migrate and keep a machine-readable record
  repoferry migrate --out results.ndjson --report migration.md
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runMigrateCommand())
	},
}

// runMigrateCommand wires the command up and returns its exit code, so the
// deferred cleanup above the os.Exit call still runs.
func runMigrateCommand() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return failf(err)
	}
	defer a.logger.Sync()

	manager, err := buildManager(a, migrateFlags.consoleFormat, migrateFlags.noConsole,
		migrateFlags.out, migrateFlags.outFormat, migrateFlags.report, migrateFlags.emit)
	if err != nil {
		return failf(err)
	}

	return runMigration(ctx, a, manager, migrateFlags.dryRun)
}

// runMigration resolves mappings, runs the orchestrator, and flushes the
// sinks. Shared with the control panel's transfer endpoint.
func runMigration(ctx context.Context, a *app, manager *output.Manager, dryRun bool) int {
	mappings, err := a.resolveMappings(ctx)
	if err != nil {
		_ = manager.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	_ = manager.Write(output.Event{Type: "run.started", Mappings: len(mappings)})

	store, err := transfer.OpenResultStore(a.cfg.Options.ResultsPath)
	if err != nil {
		_ = manager.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	orchestrator := transfer.NewOrchestrator(a.source, a.target, a.git, store, manager, a.logger, a.transferOptions(dryRun))
	summary, runErr := orchestrator.Run(ctx, mappings)

	code := exitClean
	switch {
	case runErr != nil:
		code = exitFatal
	case summary.AnyFailed():
		code = exitDirty
	}

	_ = manager.Write(output.Event{Type: "run.finished", Mappings: len(mappings), ExitCode: code})
	if err := manager.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == exitClean {
			code = exitDirty
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
	}
	return code
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateFlags.dryRun, flags.FlagDryRun, false, "Resolve projects and print the plan without mutating anything")
	migrateCmd.Flags().StringVar(&migrateFlags.consoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text, json, ndjson")
	migrateCmd.Flags().BoolVar(&migrateFlags.noConsole, flags.FlagNoConsole, false, "Suppress the console sink")
	migrateCmd.Flags().StringVar(&migrateFlags.out, flags.FlagOut, "", "Write structured output to this path")
	migrateCmd.Flags().StringVar(&migrateFlags.outFormat, flags.FlagOutFormat, "", "Format for --out: json, ndjson (inferred from extension when empty)")
	migrateCmd.Flags().StringVar(&migrateFlags.report, flags.FlagReport, "", "Write a Markdown report to this path")
	migrateCmd.Flags().StringVar(&migrateFlags.emit, flags.FlagEmit, "", "Write an additional structured stream to stdout: json, ndjson")
}
