package flags

// Package flags defines canonical CLI flag names shared across commands.
// Keeping these as constants helps avoid drift between Cobra flag wiring and
// other code paths that reference flags (e.g. error messages).
// IMPORTANT: These are flag *names* without leading dashes.
const (
	// Global
	FlagConfig    = "config"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"

	// Runs
	FlagDryRun = "dry-run"
	FlagYes    = "yes"

	// Output
	FlagConsoleFormat = "console-format"
	FlagReport        = "report"
	FlagOut           = "out"
	FlagOutFormat     = "out-format"
	FlagEmit          = "emit"
	FlagNoConsole     = "no-console"
	FlagQuiet         = "quiet"

	// Control panel
	FlagAddr = "addr"
)
