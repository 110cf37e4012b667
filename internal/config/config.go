// Package config defines the migration run configuration, its file/env
// loading, and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"repoferry/internal/platform"
	"repoferry/internal/scan"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these
	// in sync:
	// - CLI flags in internal/cli
	// - the example config in README.md
	Source  Source  `mapstructure:"source"`
	Target  Target  `mapstructure:"target"`
	Scan    []Group `mapstructure:"scan_groups"`
	Repos   []Repo  `mapstructure:"repositories"`
	Options Options `mapstructure:"options"`
}

type Source struct {
	// BaseURL is the source platform instance, e.g. https://gitlab.example.com.
	BaseURL string `mapstructure:"base_url"`

	// Token is a personal access token with API and repository read scope.
	// Prefer the REPOFERRY_SOURCE_TOKEN environment variable over the file.
	Token string `mapstructure:"token"`
}

type Target struct {
	// BaseURL overrides the API endpoint for self-hosted targets.
	// Empty means https://api.github.com.
	BaseURL string `mapstructure:"base_url"`

	// Organization owns created repositories. Empty means the token's
	// user account.
	Organization string `mapstructure:"organization"`

	// Token is a personal access token with repo scope (and admin:org for
	// team grants). Prefer the REPOFERRY_TARGET_TOKEN environment variable.
	Token string `mapstructure:"token"`
}

type Group struct {
	// Group is the namespace path to scan, e.g. platform/services.
	Group string `mapstructure:"group"`

	// Recursive includes projects of nested subgroups.
	Recursive bool `mapstructure:"recursive"`

	// Naming selects target names for discovered projects.
	// Allowed values: project-name, namespace-path.
	Naming string `mapstructure:"naming"`

	// Visibility overrides the source project's visibility for created
	// repositories. Empty keeps the source visibility.
	Visibility string `mapstructure:"visibility"`

	// DefaultCollaborators and DefaultTeams are granted on every repository
	// discovered in this group. Explicit repository entries are not affected.
	DefaultCollaborators []Grant `mapstructure:"default_collaborators"`
	DefaultTeams         []Grant `mapstructure:"default_teams"`
}

type Repo struct {
	// SourcePath and SourceID select the source project; exactly one must
	// be set.
	SourcePath string `mapstructure:"source_path"`
	SourceID   int64  `mapstructure:"source_id"`

	// TargetName is the repository name to create on the target.
	TargetName string `mapstructure:"target_name"`

	Visibility    string  `mapstructure:"visibility"`
	Description   string  `mapstructure:"description"`
	Collaborators []Grant `mapstructure:"collaborators"`
	Teams         []Grant `mapstructure:"teams"`
}

type Grant struct {
	Name       string `mapstructure:"name"`
	Permission string `mapstructure:"permission"`
}

type Options struct {
	// CloneTransport selects the git URL family. Allowed: http, ssh.
	CloneTransport string `mapstructure:"clone_transport"`

	// PreserveBranches/PreserveTags select which refs are pushed. Both
	// default to true.
	PreserveBranches bool `mapstructure:"preserve_branches"`
	PreserveTags     bool `mapstructure:"preserve_tags"`

	// DryRun resolves projects and prints the plan without mutating
	// anything.
	DryRun bool `mapstructure:"dry_run"`

	// VerifyTLS disables certificate verification when false, for source
	// instances with private CAs.
	VerifyTLS bool `mapstructure:"verify_tls"`

	// Concurrency > 1 transfers mappings through a bounded worker pool.
	Concurrency int `mapstructure:"concurrency"`

	// MappingDelay spaces out consecutive mappings in sequential mode.
	MappingDelay time.Duration `mapstructure:"mapping_delay"`

	// GitTimeout bounds each git invocation.
	GitTimeout time.Duration `mapstructure:"git_timeout"`

	// RequestTimeout bounds each API call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ResultsPath persists per-repository outcomes as JSON. Empty disables
	// persistence.
	ResultsPath string `mapstructure:"results_path"`

	// LogLevel and LogFormat configure diagnostics on stderr.
	// Levels: debug, info, warn, error. Formats: console, json.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func New() *Config {
	return &Config{
		Options: Options{
			CloneTransport:   "http",
			PreserveBranches: true,
			PreserveTags:     true,
			VerifyTLS:        true,
			Concurrency:      1,
			MappingDelay:     2 * time.Second,
			GitTimeout:       30 * time.Minute,
			RequestTimeout:   30 * time.Second,
			LogLevel:         "info",
			LogFormat:        "console",
		},
	}
}

func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return configError("source.base_url is required")
	}
	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return configError(fmt.Sprintf("source.base_url %q must be an absolute URL", c.Source.BaseURL))
	}
	if strings.TrimSpace(c.Source.Token) == "" {
		return configError("source.token is required (or set REPOFERRY_SOURCE_TOKEN)")
	}
	if strings.TrimSpace(c.Target.Token) == "" {
		return configError("target.token is required (or set REPOFERRY_TARGET_TOKEN)")
	}

	if len(c.Scan) == 0 && len(c.Repos) == 0 {
		return configError("at least one of scan_groups or repositories must be provided")
	}

	for i := range c.Scan {
		group := &c.Scan[i]
		if strings.TrimSpace(group.Group) == "" {
			return configError(fmt.Sprintf("scan_groups[%d].group must not be empty", i))
		}
		group.Naming = normalizeEnumValue(group.Naming)
		switch scan.Naming(group.Naming) {
		case "", scan.NamingProjectName, scan.NamingNamespacePath:
		default:
			return configError(fmt.Sprintf("scan_groups[%d].naming: unsupported value %q (must be one of: project-name, namespace-path)", i, group.Naming))
		}
		if err := validateVisibility(group.Visibility); err != nil {
			return configError(fmt.Sprintf("scan_groups[%d].visibility: %v", i, err))
		}
	}

	targetNames := make(map[string]int)
	for i := range c.Repos {
		repo := &c.Repos[i]
		if (repo.SourceID != 0) == (repo.SourcePath != "") {
			return configError(fmt.Sprintf("repositories[%d]: exactly one of source_id and source_path must be set", i))
		}
		if strings.TrimSpace(repo.TargetName) == "" {
			return configError(fmt.Sprintf("repositories[%d].target_name must not be empty", i))
		}
		if prior, dup := targetNames[repo.TargetName]; dup {
			return configError(fmt.Sprintf("repositories[%d].target_name %q already used by repositories[%d]", i, repo.TargetName, prior))
		}
		targetNames[repo.TargetName] = i
		if err := validateVisibility(repo.Visibility); err != nil {
			return configError(fmt.Sprintf("repositories[%d].visibility: %v", i, err))
		}
	}

	c.Options.CloneTransport = normalizeEnumValue(c.Options.CloneTransport)
	if c.Options.CloneTransport != "http" && c.Options.CloneTransport != "ssh" {
		return configError(fmt.Sprintf("options.clone_transport: unsupported value %q (must be one of: http, ssh)", c.Options.CloneTransport))
	}
	if !c.Options.PreserveBranches && !c.Options.PreserveTags {
		return configError("options: at least one of preserve_branches and preserve_tags must be true")
	}
	if c.Options.Concurrency <= 0 {
		return configError("options.concurrency must be >= 1")
	}
	if c.Options.MappingDelay < 0 {
		return configError("options.mapping_delay must be >= 0")
	}
	if c.Options.GitTimeout <= 0 {
		return configError("options.git_timeout must be > 0")
	}
	if c.Options.RequestTimeout <= 0 {
		return configError("options.request_timeout must be > 0")
	}

	return nil
}

// Mappings converts the explicit repository entries to platform mappings.
func (c *Config) Mappings() []platform.RepositoryMapping {
	mappings := make([]platform.RepositoryMapping, 0, len(c.Repos))
	for _, repo := range c.Repos {
		mapping := platform.RepositoryMapping{
			SourcePath:  repo.SourcePath,
			SourceID:    repo.SourceID,
			TargetName:  repo.TargetName,
			Visibility:  platform.Visibility(repo.Visibility),
			Description: repo.Description,
		}
		for _, grant := range repo.Collaborators {
			mapping.Collaborators = append(mapping.Collaborators, platform.Grant{Name: grant.Name, Permission: grant.Permission})
		}
		for _, grant := range repo.Teams {
			mapping.Teams = append(mapping.Teams, platform.Grant{Name: grant.Name, Permission: grant.Permission})
		}
		mappings = append(mappings, mapping)
	}
	return mappings
}

// GroupRequests converts the scan entries to scanner requests.
func (c *Config) GroupRequests() []scan.GroupRequest {
	requests := make([]scan.GroupRequest, 0, len(c.Scan))
	for _, group := range c.Scan {
		request := scan.GroupRequest{
			Group:      group.Group,
			Recursive:  group.Recursive,
			Naming:     scan.Naming(group.Naming),
			Visibility: platform.Visibility(group.Visibility),
		}
		for _, grant := range group.DefaultCollaborators {
			request.Collaborators = append(request.Collaborators, platform.Grant{Name: grant.Name, Permission: grant.Permission})
		}
		for _, grant := range group.DefaultTeams {
			request.Teams = append(request.Teams, platform.Grant{Name: grant.Name, Permission: grant.Permission})
		}
		requests = append(requests, request)
	}
	return requests
}

func configError(message string) error {
	return platform.NewError(platform.KindConfiguration, "config", message)
}

func validateVisibility(raw string) error {
	switch platform.Visibility(normalizeEnumValue(raw)) {
	case "", platform.VisibilityPublic, platform.VisibilityInternal, platform.VisibilityPrivate:
		return nil
	default:
		return errors.New("must be one of: public, internal, private")
	}
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
