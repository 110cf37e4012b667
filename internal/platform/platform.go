// Package platform defines the connector capability set shared by the
// source and target platforms, the data model exchanged through it, and
// the error taxonomy used across the whole pipeline.
//
// Callers (scanner, orchestrator, comparator) depend only on the Connector
// interface and these types, never on a specific platform's payload shape.
package platform

import (
	"context"
	"strconv"
	"time"
)

// Visibility is a platform-neutral repository visibility level.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
	VisibilityPrivate  Visibility = "private"
)

// ProjectDescriptor identifies a source-side project. Immutable once
// produced within a run.
type ProjectDescriptor struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	PathWithNamespace string     `json:"path_with_namespace"`
	Visibility        Visibility `json:"visibility"`
	DefaultBranch     string     `json:"default_branch"`
	HTTPCloneURL      string     `json:"http_clone_url"`
	SSHCloneURL       string     `json:"ssh_clone_url"`
	Description       string     `json:"description"`
}

// Group is a project namespace on the source platform.
type Group struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
}

// Grant pairs a collaborator username or team slug with a permission level.
type Grant struct {
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

// ProjectRef selects a source project by numeric ID or by full namespace
// path. Exactly one of the two must be set.
type ProjectRef struct {
	ID   int64
	Path string
}

// String returns the platform-native locator for the ref.
func (r ProjectRef) String() string {
	if r.Path != "" {
		return r.Path
	}
	if r.ID != 0 {
		return strconv.FormatInt(r.ID, 10)
	}
	return ""
}

// Valid reports whether exactly one selector is present.
func (r ProjectRef) Valid() bool {
	return (r.ID != 0) != (r.Path != "")
}

// RepositoryMapping pairs one source project with one target repository
// plus its access-grant configuration. Owned by the run that created it and
// read-only to all components.
type RepositoryMapping struct {
	Source        ProjectRef         `json:"-"`
	SourcePath    string             `json:"source_path,omitempty"`
	SourceID      int64              `json:"source_id,omitempty"`
	TargetName    string             `json:"target_name"`
	Visibility    Visibility         `json:"visibility"`
	Description   string             `json:"description,omitempty"`
	Collaborators []Grant            `json:"collaborators,omitempty"`
	Teams         []Grant            `json:"teams,omitempty"`
	Project       *ProjectDescriptor `json:"-"` // resolved lazily by the orchestrator/comparator
}

// Ref returns the project selector for the mapping, preferring the numeric
// ID when both are configured.
func (m RepositoryMapping) Ref() ProjectRef {
	if m.Source.ID != 0 || m.Source.Path != "" {
		return m.Source
	}
	if m.SourceID != 0 {
		return ProjectRef{ID: m.SourceID}
	}
	return ProjectRef{Path: m.SourcePath}
}

// Repository describes a repository on the target platform.
type Repository struct {
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	Owner         string     `json:"owner"`
	HTTPCloneURL  string     `json:"http_clone_url"`
	SSHCloneURL   string     `json:"ssh_clone_url"`
	HTMLURL       string     `json:"html_url"`
	Visibility    Visibility `json:"visibility"`
	DefaultBranch string     `json:"default_branch"`
	Description   string     `json:"description"`
}

// RefState is the observed state of one branch or tag. Retrieved fresh from
// each platform at comparison time and never cached across runs.
type RefState struct {
	Name        string    `json:"name"`
	CommitID    string    `json:"commit_id"`
	CommittedAt time.Time `json:"committed_at"`
	Author      string    `json:"author"`
}

// CommitSummary is a single commit in an ahead/behind listing.
type CommitSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	AuthoredAt time.Time `json:"authored_at"`
}

// Comparison is the result of comparing two commit histories.
// AheadBy counts commits reachable from head but not base; BehindBy the
// inverse. Commits lists head-only commits, oldest first as returned by the
// platform.
type Comparison struct {
	AheadBy  int             `json:"ahead_by"`
	BehindBy int             `json:"behind_by"`
	Commits  []CommitSummary `json:"commits"`
}

// RepoSpec describes a repository to create on the target platform.
type RepoSpec struct {
	Name        string
	Description string
	Visibility  Visibility
}

// Connector is the capability set both platform connectors implement.
//
// Repository arguments are platform-native locators: the source connector
// accepts a numeric project ID or a full namespace path, the target
// connector a repository name within its configured owner.
// Authentication is injected at construction as an opaque credential and is
// never persisted beyond the run.
type Connector interface {
	// Name identifies the platform for diagnostics ("gitlab", "github").
	Name() string

	ResolveProject(ctx context.Context, ref ProjectRef) (*ProjectDescriptor, error)
	ListSubgroups(ctx context.Context, group string) ([]Group, error)
	ListGroupProjects(ctx context.Context, group string, recursive bool) ([]ProjectDescriptor, error)

	ListBranches(ctx context.Context, repo string) ([]RefState, error)
	ListTags(ctx context.Context, repo string) ([]RefState, error)
	CompareRefs(ctx context.Context, repo, base, head string) (*Comparison, error)

	GetRepository(ctx context.Context, name string) (*Repository, error)
	CreateRepository(ctx context.Context, spec RepoSpec) (*Repository, error)
	DeleteRepository(ctx context.Context, name string) error
	AttachTopic(ctx context.Context, repo, topic string) error
	GrantCollaborator(ctx context.Context, repo, username, permission string) error
	GrantTeam(ctx context.Context, repo, team, permission string) error
}
