// Package transfer drives the migration of one or more repository mappings
// through the clone, create, push, classify, and authorize steps.
package transfer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repoferry/internal/gitcmd"
	"repoferry/internal/platform"
)

// Transport selects which clone URL family the git transfer uses.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSSH  Transport = "ssh"
)

// Options tunes a run.
type Options struct {
	DryRun           bool
	PreserveBranches bool
	PreserveTags     bool
	CloneTransport   Transport

	// SourceToken and TargetToken are injected into HTTP clone/push URLs
	// and never logged; SSH transport leaves URLs untouched.
	SourceToken string
	TargetToken string

	// MappingDelay is the pause between consecutive mappings in sequential
	// mode; it spaces out bursts against both platforms.
	MappingDelay time.Duration

	// Concurrency > 1 runs mappings through a bounded worker pool instead
	// of the sequential loop. MappingDelay does not apply in pool mode.
	Concurrency int
}

// Observer receives per-mapping progress. Implementations must be safe for
// concurrent use when Concurrency > 1.
type Observer interface {
	MappingStarted(mapping platform.RepositoryMapping)
	MappingFinished(result Result)
}

// GitRunner is the git surface the orchestrator needs; satisfied by
// gitcmd.Runner.
type GitRunner interface {
	MirrorClone(ctx context.Context, sourceURL, dir string) error
	Push(ctx context.Context, dir, targetURL string, mode gitcmd.PushMode) error
}

// Orchestrator owns the transfer state machine for a run.
type Orchestrator struct {
	source   platform.Connector
	target   platform.Connector
	git      GitRunner
	store    *ResultStore
	observer Observer
	logger   *zap.Logger
	opts     Options

	mu sync.Mutex // guards store writes and summary in pool mode

	// sleep is a test seam for the inter-mapping delay.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(source, target platform.Connector, git GitRunner, store *ResultStore, observer Observer, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.PreserveBranches && !opts.PreserveTags {
		opts.PreserveBranches = true
		opts.PreserveTags = true
	}
	if opts.CloneTransport == "" {
		opts.CloneTransport = TransportHTTP
	}
	return &Orchestrator{
		source:   source,
		target:   target,
		git:      git,
		store:    store,
		observer: observer,
		logger:   logger,
		opts:     opts,
		sleep:    sleepContext,
	}
}

// Run transfers every mapping. Mapping-level failures are recorded and do
// not stop the run; only configuration and credential failures abort it.
// Cancellation is observed between mappings: the in-flight mapping finishes
// or fails on its own terms.
func (o *Orchestrator) Run(ctx context.Context, mappings []platform.RepositoryMapping) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now().UTC()}

	if o.opts.Concurrency > 1 {
		err := o.runPooled(ctx, mappings, summary)
		summary.EndedAt = time.Now().UTC()
		return summary, err
	}

	for index, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			summary.EndedAt = time.Now().UTC()
			return summary, err
		}
		if index > 0 && o.opts.MappingDelay > 0 {
			if err := o.sleep(ctx, o.opts.MappingDelay); err != nil {
				summary.EndedAt = time.Now().UTC()
				return summary, err
			}
		}

		result, fatal := o.transferOne(ctx, mapping)
		o.record(summary, result)
		if fatal != nil {
			summary.EndedAt = time.Now().UTC()
			return summary, fatal
		}
	}

	summary.EndedAt = time.Now().UTC()
	return summary, nil
}

func (o *Orchestrator) runPooled(ctx context.Context, mappings []platform.RepositoryMapping, summary *Summary) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.Concurrency)

	for _, mapping := range mappings {
		mapping := mapping
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result, fatal := o.transferOne(groupCtx, mapping)
			o.record(summary, result)
			return fatal
		})
	}
	return group.Wait()
}

func (o *Orchestrator) record(summary *Summary, result Result) {
	o.mu.Lock()
	summary.add(result)
	if o.store != nil {
		if err := o.store.Record(result); err != nil {
			o.logger.Warn("failed to persist result",
				zap.String("target", result.TargetName),
				zap.Error(err))
		}
	}
	o.mu.Unlock()
	if o.observer != nil {
		o.observer.MappingFinished(result)
	}
}

// transferOne runs the state machine for a single mapping. The returned
// error is non-nil only for run-fatal conditions (bad credentials,
// configuration); everything else lands in the result.
func (o *Orchestrator) transferOne(ctx context.Context, mapping platform.RepositoryMapping) (Result, error) {
	result := Result{
		SourcePath: mapping.SourcePath,
		SourceID:   mapping.SourceID,
		TargetName: mapping.TargetName,
		State:      StatePending,
		StartedAt:  time.Now().UTC(),
	}
	if o.observer != nil {
		o.observer.MappingStarted(mapping)
	}
	log := o.logger.With(
		zap.String("source", mapping.Ref().String()),
		zap.String("target", mapping.TargetName))

	finish := func(state State) Result {
		result.State = state
		result.FinishedAt = time.Now().UTC()
		return result
	}
	fail := func(err error) (Result, error) {
		result.Error = err.Error()
		result.ErrorKind = platform.KindOf(err)
		log.Error("transfer failed", zap.String("state", string(result.State)), zap.Error(err))
		if result.ErrorKind == platform.KindAuthentication || result.ErrorKind == platform.KindConfiguration {
			return finish(StateFailed), err
		}
		return finish(StateFailed), nil
	}

	project := mapping.Project
	if project == nil {
		resolved, err := o.source.ResolveProject(ctx, mapping.Ref())
		if err != nil {
			return fail(fmt.Errorf("resolve source project: %w", err))
		}
		project = resolved
	}
	if result.SourcePath == "" {
		result.SourcePath = project.PathWithNamespace
	}
	if result.SourceID == 0 {
		result.SourceID = project.ID
	}
	result.Topic = ClassificationTopic(project.PathWithNamespace)

	if o.opts.DryRun {
		result.Planned = o.plan(mapping, project)
		log.Info("dry run: skipping transfer", zap.Strings("planned", result.Planned))
		return finish(StateSkippedDryRun), nil
	}

	// Clone.
	result.State = StateCloning
	cloneURL, err := o.cloneURL(project)
	if err != nil {
		return fail(err)
	}
	workdir, err := makeWorkdir(mapping.TargetName)
	if err != nil {
		return fail(&platform.Error{Kind: platform.KindLocalTool, Op: "workdir", Err: err})
	}
	defer func() {
		if err := removeWorkdir(workdir); err != nil {
			log.Warn("failed to clean working directory", zap.String("dir", workdir), zap.Error(err))
		}
	}()
	if err := o.git.MirrorClone(ctx, cloneURL, workdir); err != nil {
		return fail(err)
	}

	// Resolve or create the target repository.
	result.State = StateTargetResolving
	repo, reused, err := o.resolveTarget(ctx, mapping, project)
	if err != nil {
		return fail(err)
	}
	result.Reused = reused
	result.TargetURL = repo.HTMLURL
	if reused {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("target repository %s already existed; pushing into it", repo.FullName))
	}

	// Push.
	result.State = StatePushing
	pushURL, err := o.pushURL(repo)
	if err != nil {
		return fail(err)
	}
	mode := gitcmd.PushMode{Branches: o.opts.PreserveBranches, Tags: o.opts.PreserveTags}
	if err := o.git.Push(ctx, workdir, pushURL, mode); err != nil {
		return fail(err)
	}

	// Classify: provenance topic. Failures degrade to warnings.
	result.State = StateClassifying
	if err := o.target.AttachTopic(ctx, repo.Name, result.Topic); err != nil {
		log.Warn("failed to attach topic", zap.String("topic", result.Topic), zap.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("attach topic %s: %v", result.Topic, err))
	}

	// Authorize: collaborator and team grants. Failures degrade to warnings.
	result.State = StateAuthorizing
	for _, grant := range mapping.Collaborators {
		if err := o.target.GrantCollaborator(ctx, repo.Name, grant.Name, grant.Permission); err != nil {
			log.Warn("failed to grant collaborator", zap.String("user", grant.Name), zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("grant collaborator %s: %v", grant.Name, err))
		}
	}
	for _, grant := range mapping.Teams {
		if err := o.target.GrantTeam(ctx, repo.Name, grant.Name, grant.Permission); err != nil {
			log.Warn("failed to grant team", zap.String("team", grant.Name), zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("grant team %s: %v", grant.Name, err))
		}
	}

	log.Info("transfer completed",
		zap.Bool("reused", reused),
		zap.Int("warnings", len(result.Warnings)))
	return finish(StateCompleted), nil
}

// resolveTarget creates the target repository, reusing an existing one of
// the same name instead of failing.
func (o *Orchestrator) resolveTarget(ctx context.Context, mapping platform.RepositoryMapping, project *platform.ProjectDescriptor) (*platform.Repository, bool, error) {
	visibility := mapping.Visibility
	if visibility == "" {
		visibility = project.Visibility
	}
	// The target has no "internal" level; internal projects become private.
	if visibility == platform.VisibilityInternal {
		visibility = platform.VisibilityPrivate
	}
	description := mapping.Description
	if description == "" {
		description = project.Description
	}

	repo, err := o.target.CreateRepository(ctx, platform.RepoSpec{
		Name:        mapping.TargetName,
		Description: description,
		Visibility:  visibility,
	})
	if err == nil {
		return repo, false, nil
	}
	if platform.KindOf(err) != platform.KindAlreadyExists {
		return nil, false, fmt.Errorf("create target repository: %w", err)
	}

	existing, getErr := o.target.GetRepository(ctx, mapping.TargetName)
	if getErr != nil {
		return nil, false, fmt.Errorf("target repository exists but could not be fetched: %w", getErr)
	}
	return existing, true, nil
}

// plan lists the mutations a real run would perform, for dry-run output.
func (o *Orchestrator) plan(mapping platform.RepositoryMapping, project *platform.ProjectDescriptor) []string {
	planned := []string{
		fmt.Sprintf("mirror clone %s", project.PathWithNamespace),
		fmt.Sprintf("create repository %s (or reuse existing)", mapping.TargetName),
	}
	switch {
	case o.opts.PreserveBranches && o.opts.PreserveTags:
		planned = append(planned, "push all branches and tags")
	case o.opts.PreserveBranches:
		planned = append(planned, "push all branches")
	case o.opts.PreserveTags:
		planned = append(planned, "push all tags")
	}
	planned = append(planned, fmt.Sprintf("attach topic %s", ClassificationTopic(project.PathWithNamespace)))
	for _, grant := range mapping.Collaborators {
		planned = append(planned, fmt.Sprintf("grant collaborator %s (%s)", grant.Name, grant.Permission))
	}
	for _, grant := range mapping.Teams {
		planned = append(planned, fmt.Sprintf("grant team %s (%s)", grant.Name, grant.Permission))
	}
	return planned
}

func (o *Orchestrator) cloneURL(project *platform.ProjectDescriptor) (string, error) {
	if o.opts.CloneTransport == TransportSSH {
		if project.SSHCloneURL == "" {
			return "", platform.NewError(platform.KindConfiguration, "clone",
				"ssh transport requested but the source project has no ssh url")
		}
		return project.SSHCloneURL, nil
	}
	return authenticateURL(project.HTTPCloneURL, "oauth2", o.opts.SourceToken)
}

func (o *Orchestrator) pushURL(repo *platform.Repository) (string, error) {
	if o.opts.CloneTransport == TransportSSH {
		if repo.SSHCloneURL == "" {
			return "", platform.NewError(platform.KindConfiguration, "push",
				"ssh transport requested but the target repository has no ssh url")
		}
		return repo.SSHCloneURL, nil
	}
	return authenticateURL(repo.HTTPCloneURL, "", o.opts.TargetToken)
}

// authenticateURL embeds a token credential into an HTTP(S) clone URL.
func authenticateURL(rawURL, username, token string) (string, error) {
	if rawURL == "" {
		return "", platform.NewError(platform.KindConfiguration, "clone", "empty clone url")
	}
	if token == "" {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return "", platform.NewError(platform.KindConfiguration, "clone",
			fmt.Sprintf("invalid http clone url %q", gitcmd.Redact(rawURL)))
	}
	if username != "" {
		parsed.User = url.UserPassword(username, token)
	} else {
		parsed.User = url.User(token)
	}
	return parsed.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
