package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repoferry/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "repoferry",
	Short: "Migrate GitLab repositories to GitHub with full history",
	Long: `RepoFerry migrates repositories from a GitLab instance to GitHub: it mirrors
the full git history, recreates repositories on the target, labels them with
a provenance topic, and grants collaborator and team access.

Examples:
	# Show available commands and global flags
	repoferry --help

	# Preview a migration without mutating anything
	repoferry migrate --dry-run

	# Run the migration described by repoferry.yaml
	repoferry migrate

	# Compare migrated repositories against their sources
	repoferry check

Configuration:
	Commands read repoferry.yaml from the current directory or
	~/.config/repoferry (override with --config). Every key can also be set
	through the environment with the REPOFERRY_ prefix; nested keys use
	underscores, e.g. REPOFERRY_SOURCE_TOKEN.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, flags.FlagConfig, "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, flags.FlagLogLevel, "", "Log level: debug, info, warn, error (overrides options.log_level)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, flags.FlagLogFormat, "", "Log format: console, json (overrides options.log_format)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
