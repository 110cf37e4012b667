// Package github implements the target-platform connector against the
// GitHub REST API (v3).
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"repoferry/internal/apiclient"
	"repoferry/internal/platform"
)

const (
	platformName   = "github"
	defaultBaseURL = "https://api.github.com"
)

// Options configures connector construction.
type Options struct {
	// BaseURL overrides the API endpoint for GitHub Enterprise instances.
	BaseURL string
	// Organization is the owner for created repositories. Empty means the
	// authenticated user's account.
	Organization   string
	VerifyTLS      bool
	RequestTimeout time.Duration
	PageSize       int
}

// Connector talks to GitHub through the shared rate-aware client. The token
// is injected via an oauth2 static token source on the HTTP transport.
type Connector struct {
	client *apiclient.Client
	logger *zap.Logger
	org    string

	mu    sync.Mutex
	login string // authenticated user, resolved lazily when no org is set
}

var _ platform.Connector = (*Connector)(nil)

// New builds a target connector. ctx is used only for the oauth2 client
// construction; the credential is never persisted beyond the transport.
func New(ctx context.Context, token string, logger *zap.Logger, opts Options) (*Connector, error) {
	if strings.TrimSpace(token) == "" {
		return nil, platform.NewError(platform.KindConfiguration, "github", "target token is required")
	}

	base := &http.Client{Transport: apiclient.BaseTransport(opts.VerifyTLS)}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, source)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var clientOpts []apiclient.Option
	if opts.RequestTimeout > 0 {
		clientOpts = append(clientOpts, apiclient.WithRequestTimeout(opts.RequestTimeout))
	}
	if opts.PageSize > 0 {
		clientOpts = append(clientOpts, apiclient.WithPageSize(opts.PageSize))
	}

	client, err := apiclient.New(platformName, baseURL, httpClient, logger, clientOpts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{client: client, logger: logger, org: strings.TrimSpace(opts.Organization)}, nil
}

func (c *Connector) Name() string { return platformName }

// Limits exposes the connector's observed rate limit state.
func (c *Connector) Limits() apiclient.RateSnapshot { return c.client.Limits().Snapshot() }

// Owner returns the account repositories live under: the configured
// organization, or the authenticated user resolved on first use.
func (c *Connector) Owner(ctx context.Context) (string, error) {
	if c.org != "" {
		return c.org, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.login != "" {
		return c.login, nil
	}

	raw, err := c.client.FetchOne(ctx, "user", nil)
	if err != nil {
		if platform.KindOf(err) == platform.KindAuthorization {
			// A rejected /user call means the credential itself is bad,
			// not a missing scope.
			return "", &platform.Error{Kind: platform.KindAuthentication, Op: "github user", Err: err}
		}
		return "", err
	}
	var payload struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("github user: decode: %w", err)
	}
	if payload.Login == "" {
		return "", platform.NewError(platform.KindAuthentication, "github user", "empty login in response")
	}
	c.login = payload.Login
	return c.login, nil
}

type repoPayload struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
	CloneURL      string `json:"clone_url"`
	SSHURL        string `json:"ssh_url"`
	HTMLURL       string `json:"html_url"`
	Private       bool   `json:"private"`
	Visibility    string `json:"visibility"`
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description"`
}

func (p repoPayload) repository() platform.Repository {
	visibility := platform.Visibility(p.Visibility)
	if p.Visibility == "" {
		if p.Private {
			visibility = platform.VisibilityPrivate
		} else {
			visibility = platform.VisibilityPublic
		}
	}
	return platform.Repository{
		Name:          p.Name,
		FullName:      p.FullName,
		Owner:         p.Owner.Login,
		HTTPCloneURL:  p.CloneURL,
		SSHCloneURL:   p.SSHURL,
		HTMLURL:       p.HTMLURL,
		Visibility:    visibility,
		DefaultBranch: p.DefaultBranch,
		Description:   p.Description,
	}
}

func (c *Connector) ResolveProject(ctx context.Context, ref platform.ProjectRef) (*platform.ProjectDescriptor, error) {
	if ref.Path == "" {
		return nil, platform.NewError(platform.KindConfiguration, "github resolve project",
			"github projects are addressed by name, not numeric id")
	}
	repo, err := c.GetRepository(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	return &platform.ProjectDescriptor{
		Name:              repo.Name,
		PathWithNamespace: repo.FullName,
		Visibility:        repo.Visibility,
		DefaultBranch:     repo.DefaultBranch,
		HTTPCloneURL:      repo.HTTPCloneURL,
		SSHCloneURL:       repo.SSHCloneURL,
		Description:       repo.Description,
	}, nil
}

// ListSubgroups is part of the capability set; GitHub organizations have no
// nested groups, so the result is always empty.
func (c *Connector) ListSubgroups(ctx context.Context, group string) ([]platform.Group, error) {
	return nil, nil
}

func (c *Connector) ListGroupProjects(ctx context.Context, group string, recursive bool) ([]platform.ProjectDescriptor, error) {
	items, err := c.client.FetchAll(ctx, "orgs/"+group+"/repos", nil)
	if err != nil {
		return nil, err
	}
	projects := make([]platform.ProjectDescriptor, 0, len(items))
	for _, item := range items {
		var payload repoPayload
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("github list org repos: decode: %w", err)
		}
		repo := payload.repository()
		projects = append(projects, platform.ProjectDescriptor{
			Name:              repo.Name,
			PathWithNamespace: repo.FullName,
			Visibility:        repo.Visibility,
			DefaultBranch:     repo.DefaultBranch,
			HTTPCloneURL:      repo.HTTPCloneURL,
			SSHCloneURL:       repo.SSHCloneURL,
			Description:       repo.Description,
		})
	}
	return projects, nil
}

func (c *Connector) ListBranches(ctx context.Context, repo string) ([]platform.RefState, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	items, err := c.client.FetchAll(ctx, "repos/"+owner+"/"+repo+"/branches", nil)
	if err != nil {
		return nil, err
	}
	refs := make([]platform.RefState, 0, len(items))
	for _, item := range items {
		var payload struct {
			Name   string `json:"name"`
			Commit struct {
				SHA string `json:"sha"`
			} `json:"commit"`
		}
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("github list branches: decode: %w", err)
		}
		refs = append(refs, platform.RefState{Name: payload.Name, CommitID: payload.Commit.SHA})
	}
	return refs, nil
}

func (c *Connector) ListTags(ctx context.Context, repo string) ([]platform.RefState, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	items, err := c.client.FetchAll(ctx, "repos/"+owner+"/"+repo+"/tags", nil)
	if err != nil {
		return nil, err
	}
	refs := make([]platform.RefState, 0, len(items))
	for _, item := range items {
		var payload struct {
			Name   string `json:"name"`
			Commit struct {
				SHA string `json:"sha"`
			} `json:"commit"`
		}
		if err := json.Unmarshal(item, &payload); err != nil {
			return nil, fmt.Errorf("github list tags: decode: %w", err)
		}
		refs = append(refs, platform.RefState{Name: payload.Name, CommitID: payload.Commit.SHA})
	}
	return refs, nil
}

// CompareRefs maps to GET /repos/{owner}/{repo}/compare/{base}...{head},
// which reports ahead/behind counts and the head-only commits directly.
func (c *Connector) CompareRefs(ctx context.Context, repo, base, head string) (*platform.Comparison, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.FetchOne(ctx, "repos/"+owner+"/"+repo+"/compare/"+base+"..."+head, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		AheadBy  int `json:"ahead_by"`
		BehindBy int `json:"behind_by"`
		Commits  []struct {
			SHA    string `json:"sha"`
			Commit struct {
				Message string `json:"message"`
				Author  struct {
					Name string    `json:"name"`
					Date time.Time `json:"date"`
				} `json:"author"`
			} `json:"commit"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("github compare: decode: %w", err)
	}
	comparison := &platform.Comparison{AheadBy: payload.AheadBy, BehindBy: payload.BehindBy}
	for _, commit := range payload.Commits {
		title, _, _ := strings.Cut(commit.Commit.Message, "\n")
		comparison.Commits = append(comparison.Commits, platform.CommitSummary{
			ID:         commit.SHA,
			Title:      title,
			Author:     commit.Commit.Author.Name,
			AuthoredAt: commit.Commit.Author.Date,
		})
	}
	return comparison, nil
}

func (c *Connector) GetRepository(ctx context.Context, name string) (*platform.Repository, error) {
	owner, err := c.Owner(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.FetchOne(ctx, "repos/"+owner+"/"+name, nil)
	if err != nil {
		return nil, err
	}
	var payload repoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("github get repo: decode: %w", err)
	}
	repo := payload.repository()
	return &repo, nil
}

func (c *Connector) CreateRepository(ctx context.Context, spec platform.RepoSpec) (*platform.Repository, error) {
	body := map[string]any{
		"name":        spec.Name,
		"description": spec.Description,
		"private":     spec.Visibility != platform.VisibilityPublic,
	}

	endpoint := "user/repos"
	if c.org != "" {
		endpoint = "orgs/" + c.org + "/repos"
	}

	raw, err := c.client.Mutate(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		if isNameExistsError(err) {
			return nil, &platform.Error{Kind: platform.KindAlreadyExists, Op: "github create repo", Message: spec.Name}
		}
		return nil, err
	}
	var payload repoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("github create repo: decode: %w", err)
	}
	repo := payload.repository()
	return &repo, nil
}

func (c *Connector) DeleteRepository(ctx context.Context, name string) error {
	owner, err := c.Owner(ctx)
	if err != nil {
		return err
	}
	_, err = c.client.Mutate(ctx, http.MethodDelete, "repos/"+owner+"/"+name, nil)
	return err
}

// AttachTopic merges the topic into the repository's existing topic set;
// the topics endpoint replaces the whole list, so a blind PUT would drop
// topics and a repeated call would depend on ordering.
func (c *Connector) AttachTopic(ctx context.Context, repo, topic string) error {
	owner, err := c.Owner(ctx)
	if err != nil {
		return err
	}
	raw, err := c.client.FetchOne(ctx, "repos/"+owner+"/"+repo+"/topics", nil)
	if err != nil {
		return err
	}
	var payload struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("github attach topic: decode: %w", err)
	}
	for _, existing := range payload.Names {
		if existing == topic {
			return nil
		}
	}
	body := map[string]any{"names": append(payload.Names, topic)}
	_, err = c.client.Mutate(ctx, http.MethodPut, "repos/"+owner+"/"+repo+"/topics", body)
	return err
}

func (c *Connector) GrantCollaborator(ctx context.Context, repo, username, permission string) error {
	owner, err := c.Owner(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{"permission": permission}
	_, err = c.client.Mutate(ctx, http.MethodPut, "repos/"+owner+"/"+repo+"/collaborators/"+username, body)
	return err
}

func (c *Connector) GrantTeam(ctx context.Context, repo, team, permission string) error {
	if c.org == "" {
		return platform.NewError(platform.KindConfiguration, "github grant team",
			"team grants require a target organization")
	}
	owner, err := c.Owner(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{"permission": permission}
	_, err = c.client.Mutate(ctx, http.MethodPut, "orgs/"+c.org+"/teams/"+team+"/repos/"+owner+"/"+repo, body)
	return err
}

// isNameExistsError recognizes GitHub's 422 "name already exists on this
// account" create rejection.
func isNameExistsError(err error) bool {
	var pe *platform.Error
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Kind == platform.KindAlreadyExists {
		return true
	}
	return pe.Status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(pe.Message), "already exists")
}
