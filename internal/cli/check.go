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
	"repoferry/internal/synccheck"
)

var checkFlags struct {
	consoleFormat string
	noConsole     bool
	out           string
	outFormat     string
	report        string
	emit          string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare migrated repositories against their sources",
	Long: `Compare every configured mapping ref by ref and report drift.

For each branch and tag the commit on both platforms is compared:
  synced            same commit on both sides
  diverged          both sides have the ref, at different commits
  missing_on_target the source has the ref, the target does not
  extra_on_target   the target has a ref the source does not

Diverged branches additionally list how far the source is ahead and the
newest source-only commits. Tags are compared by identity only.

Exit codes:
	0 = every repository fully synced
	1 = drift detected, or a repository could not be compared
	3 = fatal error (nothing was compared)

Examples:
  repoferry check
  repoferry check --out sync.ndjson --no-console
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCheckCommand())
	},
}

// runCheckCommand wires the command up and returns its exit code, so the
// deferred cleanup above the os.Exit call still runs.
func runCheckCommand() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return failf(err)
	}
	defer a.logger.Sync()

	manager, err := buildManager(a, checkFlags.consoleFormat, checkFlags.noConsole,
		checkFlags.out, checkFlags.outFormat, checkFlags.report, checkFlags.emit)
	if err != nil {
		return failf(err)
	}

	return runCheck(ctx, a, manager)
}

// runCheck resolves mappings, compares them, and flushes the sinks. Shared
// with the control panel's refresh endpoint.
func runCheck(ctx context.Context, a *app, manager *output.Manager) int {
	mappings, err := a.resolveMappings(ctx)
	if err != nil {
		_ = manager.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	_ = manager.Write(output.Event{Type: "run.started", Mappings: len(mappings)})

	comparator := synccheck.NewComparator(a.source, a.target, a.logger)
	report, runErr := comparator.Compare(ctx, mappings)

	for _, repo := range report.Repos {
		_ = manager.Write(repo)
	}

	code := exitClean
	switch {
	case runErr != nil:
		code = exitFatal
	case !report.FullySynced():
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
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkFlags.consoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text, json, ndjson")
	checkCmd.Flags().BoolVar(&checkFlags.noConsole, flags.FlagNoConsole, false, "Suppress the console sink")
	checkCmd.Flags().StringVar(&checkFlags.out, flags.FlagOut, "", "Write structured output to this path")
	checkCmd.Flags().StringVar(&checkFlags.outFormat, flags.FlagOutFormat, "", "Format for --out: json, ndjson (inferred from extension when empty)")
	checkCmd.Flags().StringVar(&checkFlags.report, flags.FlagReport, "", "Write a Markdown report to this path")
	checkCmd.Flags().StringVar(&checkFlags.emit, flags.FlagEmit, "", "Write an additional structured stream to stdout: json, ndjson")
}
