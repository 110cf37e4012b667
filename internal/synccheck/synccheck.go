// Package synccheck compares migrated repositories against their source
// projects ref by ref and reports where the two have drifted apart.
package synccheck

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"repoferry/internal/platform"
)

// maxDivergedCommits bounds how many source-only commits are listed per
// diverged branch.
const maxDivergedCommits = 10

// SyncState classifies one ref.
type SyncState string

const (
	StateSynced          SyncState = "synced"
	StateDiverged        SyncState = "diverged"
	StateMissingOnTarget SyncState = "missing_on_target"
	StateExtraOnTarget   SyncState = "extra_on_target"
)

// RefComparison is the verdict for a single branch or tag.
type RefComparison struct {
	Name      string    `json:"name"`
	State     SyncState `json:"state"`
	SourceSHA string    `json:"source_sha,omitempty"`
	TargetSHA string    `json:"target_sha,omitempty"`

	// AheadBy/BehindBy and Commits are populated for diverged branches
	// only: how far the source is ahead of (and behind) the target, with
	// the newest source-only commits first.
	AheadBy  int                      `json:"ahead_by,omitempty"`
	BehindBy int                      `json:"behind_by,omitempty"`
	Commits  []platform.CommitSummary `json:"commits,omitempty"`
}

// KindReport covers one ref kind (branches or tags) of one repository.
type KindReport struct {
	Synced   int             `json:"synced"`
	Diverged int             `json:"diverged"`
	Missing  int             `json:"missing_on_target"`
	Extra    int             `json:"extra_on_target"`
	Refs     []RefComparison `json:"refs"`
}

// Clean reports whether every ref of this kind is in sync.
func (r KindReport) Clean() bool {
	return r.Diverged == 0 && r.Missing == 0 && r.Extra == 0
}

// RepoReport is the comparison result for one mapping.
type RepoReport struct {
	SourcePath string     `json:"source_path"`
	TargetName string     `json:"target_name"`
	Branches   KindReport `json:"branches"`
	Tags       KindReport `json:"tags"`
	Error      string     `json:"error,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// Synced reports whether the repository is fully in sync.
func (r RepoReport) Synced() bool {
	return r.Error == "" && r.Branches.Clean() && r.Tags.Clean()
}

// Report aggregates a whole check run.
type Report struct {
	Repos     []RepoReport `json:"repos"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

// FullySynced reports whether every repository compared clean.
func (r Report) FullySynced() bool {
	for _, repo := range r.Repos {
		if !repo.Synced() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any repository could not be compared at all.
func (r Report) AnyFailed() bool {
	for _, repo := range r.Repos {
		if repo.Error != "" {
			return true
		}
	}
	return false
}

// Comparator fetches ref state from both platforms and classifies it. Ref
// state is always fetched fresh; nothing is cached across runs.
type Comparator struct {
	source platform.Connector
	target platform.Connector
	logger *zap.Logger
}

func NewComparator(source, target platform.Connector, logger *zap.Logger) *Comparator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparator{source: source, target: target, logger: logger}
}

// Compare checks every mapping. A mapping that cannot be compared (either
// side unreachable) gets an Error and does not stop the run; credential
// failures do.
func (c *Comparator) Compare(ctx context.Context, mappings []platform.RepositoryMapping) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	for _, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			report.EndedAt = time.Now().UTC()
			return report, err
		}
		repo, err := c.compareOne(ctx, mapping)
		report.Repos = append(report.Repos, repo)
		if err != nil {
			report.EndedAt = time.Now().UTC()
			return report, err
		}
	}

	report.EndedAt = time.Now().UTC()
	return report, nil
}

func (c *Comparator) compareOne(ctx context.Context, mapping platform.RepositoryMapping) (RepoReport, error) {
	repo := RepoReport{
		SourcePath: mapping.SourcePath,
		TargetName: mapping.TargetName,
		CheckedAt:  time.Now().UTC(),
	}
	log := c.logger.With(
		zap.String("source", mapping.Ref().String()),
		zap.String("target", mapping.TargetName))

	fail := func(err error) (RepoReport, error) {
		repo.Error = err.Error()
		log.Error("comparison failed", zap.Error(err))
		if kind := platform.KindOf(err); kind == platform.KindAuthentication || kind == platform.KindConfiguration {
			return repo, err
		}
		return repo, nil
	}

	project := mapping.Project
	if project == nil {
		resolved, err := c.source.ResolveProject(ctx, mapping.Ref())
		if err != nil {
			return fail(fmt.Errorf("resolve source project: %w", err))
		}
		project = resolved
	}
	if repo.SourcePath == "" {
		repo.SourcePath = project.PathWithNamespace
	}
	sourceLocator := mapping.Ref().String()

	if _, err := c.target.GetRepository(ctx, mapping.TargetName); err != nil {
		return fail(fmt.Errorf("fetch target repository: %w", err))
	}

	sourceBranches, err := c.source.ListBranches(ctx, sourceLocator)
	if err != nil {
		return fail(fmt.Errorf("list source branches: %w", err))
	}
	targetBranches, err := c.target.ListBranches(ctx, mapping.TargetName)
	if err != nil {
		return fail(fmt.Errorf("list target branches: %w", err))
	}
	repo.Branches = c.compareRefs(ctx, mapping.TargetName, sourceBranches, targetBranches, true, &repo.Warnings)

	sourceTags, err := c.source.ListTags(ctx, sourceLocator)
	if err != nil {
		return fail(fmt.Errorf("list source tags: %w", err))
	}
	targetTags, err := c.target.ListTags(ctx, mapping.TargetName)
	if err != nil {
		return fail(fmt.Errorf("list target tags: %w", err))
	}
	// Tags are compared by identity only; histories are not walked.
	repo.Tags = c.compareRefs(ctx, mapping.TargetName, sourceTags, targetTags, false, &repo.Warnings)

	log.Info("comparison finished",
		zap.Bool("synced", repo.Synced()),
		zap.Int("branch_refs", len(repo.Branches.Refs)),
		zap.Int("tag_refs", len(repo.Tags.Refs)))
	return repo, nil
}

// compareRefs classifies one ref kind. For diverged branches it asks the
// target platform how far apart the two commits are; a failed lookup
// degrades to a warning, never to a run failure.
func (c *Comparator) compareRefs(ctx context.Context, targetRepo string, source, target []platform.RefState, walkDiverged bool, warnings *[]string) KindReport {
	targetByName := make(map[string]platform.RefState, len(target))
	for _, ref := range target {
		targetByName[ref.Name] = ref
	}
	sourceNames := make(map[string]bool, len(source))

	var report KindReport
	for _, sourceRef := range source {
		sourceNames[sourceRef.Name] = true
		comparison := RefComparison{Name: sourceRef.Name, SourceSHA: sourceRef.CommitID}

		targetRef, present := targetByName[sourceRef.Name]
		switch {
		case !present:
			comparison.State = StateMissingOnTarget
			report.Missing++
		case targetRef.CommitID == sourceRef.CommitID:
			comparison.State = StateSynced
			comparison.TargetSHA = targetRef.CommitID
			report.Synced++
		default:
			comparison.State = StateDiverged
			comparison.TargetSHA = targetRef.CommitID
			report.Diverged++
			if walkDiverged {
				c.describeDivergence(ctx, targetRepo, &comparison, warnings)
			}
		}
		report.Refs = append(report.Refs, comparison)
	}

	for _, targetRef := range target {
		if sourceNames[targetRef.Name] {
			continue
		}
		report.Extra++
		report.Refs = append(report.Refs, RefComparison{
			Name:      targetRef.Name,
			State:     StateExtraOnTarget,
			TargetSHA: targetRef.CommitID,
		})
	}

	sort.Slice(report.Refs, func(i, j int) bool { return report.Refs[i].Name < report.Refs[j].Name })
	return report
}

// describeDivergence fills in ahead/behind counts and the newest
// source-only commits for a diverged branch.
func (c *Comparator) describeDivergence(ctx context.Context, targetRepo string, comparison *RefComparison, warnings *[]string) {
	result, err := c.target.CompareRefs(ctx, targetRepo, comparison.TargetSHA, comparison.SourceSHA)
	if err != nil {
		*warnings = append(*warnings,
			fmt.Sprintf("compare %s: %v", comparison.Name, err))
		return
	}
	comparison.AheadBy = result.AheadBy
	comparison.BehindBy = result.BehindBy

	// Platforms list commits oldest first; show the newest, capped.
	commits := result.Commits
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	if len(commits) > maxDivergedCommits {
		commits = commits[:maxDivergedCommits]
	}
	comparison.Commits = commits
}
