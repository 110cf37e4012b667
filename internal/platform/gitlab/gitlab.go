// Package gitlab implements the source-platform connector against the
// GitLab REST API (v4).
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"repoferry/internal/apiclient"
	"repoferry/internal/platform"
)

const platformName = "gitlab"

// GitLab access levels for member and group-share grants.
const (
	accessGuest      = 10
	accessReporter   = 20
	accessDeveloper  = 30
	accessMaintainer = 40
)

// Options configures connector construction.
type Options struct {
	VerifyTLS      bool
	RequestTimeout time.Duration
	PageSize       int
}

// Connector talks to one GitLab instance through the shared rate-aware
// client. The token travels only inside the HTTP transport.
type Connector struct {
	client *apiclient.Client
	logger *zap.Logger
}

var _ platform.Connector = (*Connector)(nil)

// New builds a connector for the GitLab instance at baseURL (without the
// /api/v4 suffix).
func New(baseURL, token string, logger *zap.Logger, opts Options) (*Connector, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, platform.NewError(platform.KindConfiguration, "gitlab", "source URL is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, platform.NewError(platform.KindConfiguration, "gitlab", "source token is required")
	}

	httpClient := &http.Client{
		Transport: &apiclient.HeaderTransport{
			Base:   apiclient.BaseTransport(opts.VerifyTLS),
			Header: "PRIVATE-TOKEN",
			Value:  token,
		},
	}

	var clientOpts []apiclient.Option
	if opts.RequestTimeout > 0 {
		clientOpts = append(clientOpts, apiclient.WithRequestTimeout(opts.RequestTimeout))
	}
	if opts.PageSize > 0 {
		clientOpts = append(clientOpts, apiclient.WithPageSize(opts.PageSize))
	}

	client, err := apiclient.New(platformName, strings.TrimRight(baseURL, "/")+"/api/v4", httpClient, logger, clientOpts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{client: client, logger: logger}, nil
}

func (c *Connector) Name() string { return platformName }

// Limits exposes the connector's observed rate limit state.
func (c *Connector) Limits() apiclient.RateSnapshot { return c.client.Limits().Snapshot() }

type projectPayload struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	Visibility        string `json:"visibility"`
	DefaultBranch     string `json:"default_branch"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
	SSHURLToRepo      string `json:"ssh_url_to_repo"`
	Description       string `json:"description"`
}

func (p projectPayload) descriptor() platform.ProjectDescriptor {
	return platform.ProjectDescriptor{
		ID:                p.ID,
		Name:              p.Name,
		PathWithNamespace: p.PathWithNamespace,
		Visibility:        platform.Visibility(p.Visibility),
		DefaultBranch:     p.DefaultBranch,
		HTTPCloneURL:      p.HTTPURLToRepo,
		SSHCloneURL:       p.SSHURLToRepo,
		Description:       p.Description,
	}
}

func (c *Connector) ResolveProject(ctx context.Context, ref platform.ProjectRef) (*platform.ProjectDescriptor, error) {
	if !ref.Valid() {
		return nil, platform.NewError(platform.KindConfiguration, "gitlab resolve project",
			"exactly one of source id or source path must be set")
	}
	raw, err := c.client.FetchOne(ctx, "projects/"+encodeID(ref.String()), nil)
	if err != nil {
		return nil, err
	}
	var payload projectPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("gitlab resolve project: decode: %w", err)
	}
	descriptor := payload.descriptor()
	return &descriptor, nil
}

func (c *Connector) ListSubgroups(ctx context.Context, group string) ([]platform.Group, error) {
	items, err := c.client.FetchAll(ctx, "groups/"+encodeID(group)+"/subgroups", nil)
	if err != nil {
		return nil, err
	}
	groups := make([]platform.Group, 0, len(items))
	for _, item := range items {
		var payload struct {
			ID       int64  `json:"id"`
			FullPath string `json:"full_path"`
			Name     string `json:"name"`
		}
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("gitlab list subgroups: decode: %w", err)
		}
		groups = append(groups, platform.Group{ID: payload.ID, Path: payload.FullPath, Name: payload.Name})
	}
	return groups, nil
}

func (c *Connector) ListGroupProjects(ctx context.Context, group string, recursive bool) ([]platform.ProjectDescriptor, error) {
	query := url.Values{}
	query.Set("include_subgroups", strconv.FormatBool(recursive))
	query.Set("archived", "false")

	items, err := c.client.FetchAll(ctx, "groups/"+encodeID(group)+"/projects", query)
	if err != nil {
		return nil, err
	}
	projects := make([]platform.ProjectDescriptor, 0, len(items))
	for _, item := range items {
		var payload projectPayload
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("gitlab list group projects: decode: %w", err)
		}
		projects = append(projects, payload.descriptor())
	}
	return projects, nil
}

type commitPayload struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	AuthorName    string    `json:"author_name"`
	CommittedDate time.Time `json:"committed_date"`
	CreatedAt     time.Time `json:"created_at"`
}

func (p commitPayload) when() time.Time {
	if !p.CommittedDate.IsZero() {
		return p.CommittedDate
	}
	return p.CreatedAt
}

func (c *Connector) ListBranches(ctx context.Context, repo string) ([]platform.RefState, error) {
	return c.listRefs(ctx, repo, "branches")
}

func (c *Connector) ListTags(ctx context.Context, repo string) ([]platform.RefState, error) {
	return c.listRefs(ctx, repo, "tags")
}

func (c *Connector) listRefs(ctx context.Context, repo, kind string) ([]platform.RefState, error) {
	items, err := c.client.FetchAll(ctx, "projects/"+encodeID(repo)+"/repository/"+kind, nil)
	if err != nil {
		return nil, err
	}
	refs := make([]platform.RefState, 0, len(items))
	for _, item := range items {
		var payload struct {
			Name   string        `json:"name"`
			Commit commitPayload `json:"commit"`
			Target string        `json:"target"` // annotated tags point here
		}
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("gitlab list %s: decode: %w", kind, err)
		}
		commitID := payload.Commit.ID
		if commitID == "" {
			commitID = payload.Target
		}
		refs = append(refs, platform.RefState{
			Name:        payload.Name,
			CommitID:    commitID,
			CommittedAt: payload.Commit.when(),
			Author:      payload.Commit.AuthorName,
		})
	}
	return refs, nil
}

// CompareRefs reports the commits reachable from head but not base. GitLab's
// compare endpoint returns only one direction, so the behind count needs the
// reverse comparison as a second call.
func (c *Connector) CompareRefs(ctx context.Context, repo, base, head string) (*platform.Comparison, error) {
	ahead, err := c.compareOnce(ctx, repo, base, head)
	if err != nil {
		return nil, err
	}
	behind, err := c.compareOnce(ctx, repo, head, base)
	if err != nil {
		return nil, err
	}
	return &platform.Comparison{
		AheadBy:  len(ahead),
		BehindBy: len(behind),
		Commits:  ahead,
	}, nil
}

func (c *Connector) compareOnce(ctx context.Context, repo, from, to string) ([]platform.CommitSummary, error) {
	query := url.Values{}
	query.Set("from", from)
	query.Set("to", to)
	raw, err := c.client.FetchOne(ctx, "projects/"+encodeID(repo)+"/repository/compare", query)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Commits []commitPayload `json:"commits"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("gitlab compare: decode: %w", err)
	}
	commits := make([]platform.CommitSummary, 0, len(payload.Commits))
	for _, commit := range payload.Commits {
		commits = append(commits, platform.CommitSummary{
			ID:         commit.ID,
			Title:      commit.Title,
			Author:     commit.AuthorName,
			AuthoredAt: commit.when(),
		})
	}
	return commits, nil
}

func (c *Connector) GetRepository(ctx context.Context, name string) (*platform.Repository, error) {
	descriptor, err := c.ResolveProject(ctx, platform.ProjectRef{Path: name})
	if err != nil {
		return nil, err
	}
	return repositoryFromDescriptor(descriptor), nil
}

func (c *Connector) CreateRepository(ctx context.Context, spec platform.RepoSpec) (*platform.Repository, error) {
	body := map[string]any{
		"name":        spec.Name,
		"description": spec.Description,
		"visibility":  string(spec.Visibility),
	}
	raw, err := c.client.Mutate(ctx, http.MethodPost, "projects", body)
	if err != nil {
		if isTakenError(err) {
			return nil, &platform.Error{Kind: platform.KindAlreadyExists, Op: "gitlab create project", Message: spec.Name}
		}
		return nil, err
	}
	var payload projectPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("gitlab create project: decode: %w", err)
	}
	descriptor := payload.descriptor()
	return repositoryFromDescriptor(&descriptor), nil
}

func (c *Connector) DeleteRepository(ctx context.Context, name string) error {
	_, err := c.client.Mutate(ctx, http.MethodDelete, "projects/"+encodeID(name), nil)
	return err
}

// AttachTopic merges the topic into the project's existing topic list so
// applying it twice stays idempotent.
func (c *Connector) AttachTopic(ctx context.Context, repo, topic string) error {
	raw, err := c.client.FetchOne(ctx, "projects/"+encodeID(repo), nil)
	if err != nil {
		return err
	}
	var payload struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("gitlab attach topic: decode: %w", err)
	}
	for _, existing := range payload.Topics {
		if existing == topic {
			return nil
		}
	}
	body := map[string]any{"topics": append(payload.Topics, topic)}
	_, err = c.client.Mutate(ctx, http.MethodPut, "projects/"+encodeID(repo), body)
	return err
}

func (c *Connector) GrantCollaborator(ctx context.Context, repo, username, permission string) error {
	userID, err := c.lookupUserID(ctx, username)
	if err != nil {
		return err
	}
	body := map[string]any{
		"user_id":      userID,
		"access_level": accessLevel(permission),
	}
	_, err = c.client.Mutate(ctx, http.MethodPost, "projects/"+encodeID(repo)+"/members", body)
	if err != nil && platform.KindOf(err) == platform.KindAlreadyExists {
		// Member already present at some level; treat as satisfied.
		return nil
	}
	return err
}

// GrantTeam shares the project with a GitLab group, the platform's
// equivalent of a team grant.
func (c *Connector) GrantTeam(ctx context.Context, repo, team, permission string) error {
	raw, err := c.client.FetchOne(ctx, "groups/"+encodeID(team), nil)
	if err != nil {
		return err
	}
	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("gitlab grant team: decode: %w", err)
	}
	body := map[string]any{
		"group_id":     payload.ID,
		"group_access": accessLevel(permission),
	}
	_, err = c.client.Mutate(ctx, http.MethodPost, "projects/"+encodeID(repo)+"/share", body)
	return err
}

func (c *Connector) lookupUserID(ctx context.Context, username string) (int64, error) {
	query := url.Values{}
	query.Set("username", username)
	raw, err := c.client.FetchOne(ctx, "users", query)
	if err != nil {
		return 0, err
	}
	var users []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &users); err != nil {
		return 0, fmt.Errorf("gitlab user lookup: decode: %w", err)
	}
	if len(users) == 0 {
		return 0, &platform.Error{Kind: platform.KindNotFound, Op: "gitlab user lookup", Message: username}
	}
	return users[0].ID, nil
}

func repositoryFromDescriptor(d *platform.ProjectDescriptor) *platform.Repository {
	owner := ""
	if idx := strings.LastIndex(d.PathWithNamespace, "/"); idx > 0 {
		owner = d.PathWithNamespace[:idx]
	}
	return &platform.Repository{
		Name:          d.Name,
		FullName:      d.PathWithNamespace,
		Owner:         owner,
		HTTPCloneURL:  d.HTTPCloneURL,
		SSHCloneURL:   d.SSHCloneURL,
		Visibility:    d.Visibility,
		DefaultBranch: d.DefaultBranch,
		Description:   d.Description,
	}
}

// encodeID escapes a project or group identifier for use as a single path
// segment (namespace paths become group%2Fproject).
func encodeID(id string) string {
	return url.PathEscape(id)
}

func accessLevel(permission string) int {
	switch strings.ToLower(permission) {
	case "pull", "read", "triage":
		return accessReporter
	case "admin", "maintain":
		return accessMaintainer
	case "guest":
		return accessGuest
	default: // push and anything unspecified
		return accessDeveloper
	}
}

// isTakenError recognizes GitLab's 400 "has already been taken" create
// rejection, which arrives without a distinct status code.
func isTakenError(err error) bool {
	var pe *platform.Error
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Kind == platform.KindAlreadyExists {
		return true
	}
	return pe.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(pe.Message), "already been taken")
}
