package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"repoferry/internal/config"
	"repoferry/internal/gitcmd"
	"repoferry/internal/logging"
	"repoferry/internal/platform"
	"repoferry/internal/platform/github"
	"repoferry/internal/platform/gitlab"
	"repoferry/internal/scan"
	"repoferry/internal/transfer"
)

// Exit codes shared by all commands.
const (
	exitClean = 0
	exitDirty = 1 // mapping failures or divergence detected
	exitFatal = 3 // configuration or credential failure; nothing ran
)

// app bundles the wired-up components every command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	source platform.Connector
	target *github.Connector
	git    *gitcmd.Runner
}

// newApp loads and validates configuration and constructs both connectors.
// Failures here are fatal by definition: nothing has run yet.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.Options.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	format := cfg.Options.LogFormat
	if flagLogFormat != "" {
		format = flagLogFormat
	}
	logger, err := logging.New(level, logging.Format(format))
	if err != nil {
		return nil, err
	}

	source, err := gitlab.New(cfg.Source.BaseURL, cfg.Source.Token, logger, gitlab.Options{
		VerifyTLS:      cfg.Options.VerifyTLS,
		RequestTimeout: cfg.Options.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	target, err := github.New(ctx, cfg.Target.Token, logger, github.Options{
		BaseURL:        cfg.Target.BaseURL,
		Organization:   cfg.Target.Organization,
		VerifyTLS:      cfg.Options.VerifyTLS,
		RequestTimeout: cfg.Options.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		source: source,
		target: target,
		git:    gitcmd.NewRunner(logger, cfg.Options.GitTimeout),
	}, nil
}

// resolveMappings expands configured scan groups and combines them with the
// explicit repository entries.
func (a *app) resolveMappings(ctx context.Context) ([]platform.RepositoryMapping, error) {
	scanner := scan.New(a.source, a.logger)
	return scanner.Expand(ctx, a.cfg.Mappings(), a.cfg.GroupRequests())
}

// transferOptions maps configuration to orchestrator options.
func (a *app) transferOptions(dryRun bool) transfer.Options {
	return transfer.Options{
		DryRun:           dryRun || a.cfg.Options.DryRun,
		PreserveBranches: a.cfg.Options.PreserveBranches,
		PreserveTags:     a.cfg.Options.PreserveTags,
		CloneTransport:   transfer.Transport(a.cfg.Options.CloneTransport),
		SourceToken:      a.cfg.Source.Token,
		TargetToken:      a.cfg.Target.Token,
		MappingDelay:     a.cfg.Options.MappingDelay,
		Concurrency:      a.cfg.Options.Concurrency,
	}
}

// failf reports a fatal error and returns the fatal exit code. Commands
// return it up to their os.Exit wrapper so deferred cleanup still runs.
func failf(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitFatal
}
