package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repoferry/internal/flags"
	"repoferry/internal/platform"
)

var cleanupFlags struct {
	yes    bool
	dryRun bool
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete migrated repositories from the target platform",
	Long: `Delete every configured mapping's repository from the target platform.

Intended for tearing down trial migrations before the real one. Repositories
that do not exist are skipped. Requires --yes unless --dry-run is given.

Exit codes:
	0 = every existing repository deleted
	1 = one or more deletions failed
	3 = fatal error (nothing was deleted)

Examples:
  repoferry cleanup --dry-run
  repoferry cleanup --yes
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCleanupCommand(cmd))
	},
}

func runCleanupCommand(cmd *cobra.Command) int {
	if !cleanupFlags.yes && !cleanupFlags.dryRun {
		fmt.Fprintln(os.Stderr, "Error: cleanup deletes repositories; pass --yes to confirm or --dry-run to preview")
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return failf(err)
	}
	defer a.logger.Sync()

	mappings, err := a.resolveMappings(ctx)
	if err != nil {
		return failf(err)
	}

	failed := 0
	for _, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			return failf(err)
		}

		if _, err := a.target.GetRepository(ctx, mapping.TargetName); err != nil {
			if platform.IsKind(err, platform.KindNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "skip %s: not present\n", mapping.TargetName)
				continue
			}
			if platform.IsKind(err, platform.KindAuthentication) {
				return failf(err)
			}
			fmt.Fprintf(os.Stderr, "Error: fetch %s: %v\n", mapping.TargetName, err)
			failed++
			continue
		}

		if cleanupFlags.dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "would delete %s\n", mapping.TargetName)
			continue
		}
		if err := a.target.DeleteRepository(ctx, mapping.TargetName); err != nil {
			fmt.Fprintf(os.Stderr, "Error: delete %s: %v\n", mapping.TargetName, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", mapping.TargetName)
	}

	if failed > 0 {
		return exitDirty
	}
	return exitClean
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupFlags.yes, flags.FlagYes, false, "Confirm deletion")
	cleanupCmd.Flags().BoolVar(&cleanupFlags.dryRun, flags.FlagDryRun, false, "Print what would be deleted without deleting")
}
