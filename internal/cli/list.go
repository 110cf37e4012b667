package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"repoferry/internal/flags"
	"repoferry/internal/transfer"
)

var listQuiet bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the repository mappings a run would process",
	Long: `Resolve the configured scan groups and explicit repositories and print
the resulting mappings without transferring anything. Useful for verifying
group expansion and naming before a migration.

Examples:
  repoferry list
  repoferry list --quiet
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runListCommand(cmd))
	},
}

func runListCommand(cmd *cobra.Command) int {
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

	if listQuiet {
		for _, mapping := range mappings {
			fmt.Fprintln(cmd.OutOrStdout(), mapping.TargetName)
		}
		return exitClean
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTARGET\tVISIBILITY\tTOPIC")
	for _, mapping := range mappings {
		source := mapping.SourcePath
		if source == "" {
			source = mapping.Ref().String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			source, mapping.TargetName, mapping.Visibility, transfer.ClassificationTopic(source))
	}
	w.Flush()
	return exitClean
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listQuiet, flags.FlagQuiet, "q", false, "Only print target names")
}
