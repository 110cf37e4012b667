// Package scan expands group references into concrete repository mappings
// by walking the source platform's namespace tree.
package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"repoferry/internal/platform"
)

// Naming selects how discovered projects are named on the target.
type Naming string

const (
	// NamingProjectName uses the bare project name. Two projects with the
	// same name in different namespaces make the scan fail.
	NamingProjectName Naming = "project-name"

	// NamingNamespacePath uses the full namespace path with "/" replaced
	// by "-", which is collision-free by construction.
	NamingNamespacePath Naming = "namespace-path"
)

// GroupRequest asks for one group to be scanned.
type GroupRequest struct {
	Group      string
	Recursive  bool
	Naming     Naming
	Visibility platform.Visibility

	// Collaborators and Teams are granted on every repository discovered in
	// this group.
	Collaborators []platform.Grant
	Teams         []platform.Grant
}

// Scanner discovers projects under source groups and turns them into
// repository mappings ready for the orchestrator.
type Scanner struct {
	source platform.Connector
	logger *zap.Logger
}

func New(source platform.Connector, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{source: source, logger: logger}
}

// Expand scans every requested group and returns the discovered mappings
// appended after the explicit ones, in stable path order. Projects already
// covered by an explicit mapping are skipped; target-name collisions within
// the discovered set or against explicit mappings are configuration errors.
func (s *Scanner) Expand(ctx context.Context, explicit []platform.RepositoryMapping, requests []GroupRequest) ([]platform.RepositoryMapping, error) {
	claimed := make(map[string]string) // target name -> source locator
	explicitIDs := make(map[int64]bool)
	explicitPaths := make(map[string]bool)
	for _, mapping := range explicit {
		claimed[mapping.TargetName] = mapping.Ref().String()
		if ref := mapping.Ref(); ref.ID != 0 {
			explicitIDs[ref.ID] = true
		} else if ref.Path != "" {
			explicitPaths[ref.Path] = true
		}
	}

	seen := make(map[int64]bool)
	var discovered []platform.RepositoryMapping

	for _, request := range requests {
		projects, err := s.scanGroup(ctx, request)
		if err != nil {
			return nil, err
		}

		for _, project := range projects {
			if seen[project.ID] || explicitIDs[project.ID] || explicitPaths[project.PathWithNamespace] {
				continue
			}
			seen[project.ID] = true

			name, err := targetName(project, request.Naming)
			if err != nil {
				return nil, err
			}
			if prior, taken := claimed[name]; taken {
				return nil, platform.NewError(platform.KindConfiguration, "scan",
					fmt.Sprintf("target name %q claimed by both %s and %s; use naming %q or an explicit mapping",
						name, prior, project.PathWithNamespace, NamingNamespacePath))
			}
			claimed[name] = project.PathWithNamespace

			visibility := request.Visibility
			if visibility == "" {
				visibility = project.Visibility
			}
			mapping := platform.RepositoryMapping{
				Source:        platform.ProjectRef{ID: project.ID},
				SourcePath:    project.PathWithNamespace,
				SourceID:      project.ID,
				TargetName:    name,
				Visibility:    visibility,
				Description:   project.Description,
				Collaborators: request.Collaborators,
				Teams:         request.Teams,
			}
			descriptor := project
			mapping.Project = &descriptor
			discovered = append(discovered, mapping)
		}
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].SourcePath < discovered[j].SourcePath
	})

	s.logger.Info("group scan complete",
		zap.Int("groups", len(requests)),
		zap.Int("discovered", len(discovered)),
		zap.Int("explicit", len(explicit)))

	result := make([]platform.RepositoryMapping, 0, len(explicit)+len(discovered))
	result = append(result, explicit...)
	result = append(result, discovered...)
	return result, nil
}

// scanGroup lists a group's projects, breadth-first through subgroups when
// recursive. The connector's recursive listing is preferred; the explicit
// walk exists for platforms that cannot expand nested namespaces in one
// call and as the visited-set guard against subgroup cycles.
func (s *Scanner) scanGroup(ctx context.Context, request GroupRequest) ([]platform.ProjectDescriptor, error) {
	if strings.TrimSpace(request.Group) == "" {
		return nil, platform.NewError(platform.KindConfiguration, "scan", "group path must not be empty")
	}

	projects, err := s.source.ListGroupProjects(ctx, request.Group, request.Recursive)
	if err != nil {
		return nil, fmt.Errorf("scan group %s: %w", request.Group, err)
	}
	if !request.Recursive {
		return projects, nil
	}

	// Recursive listings already include subgroup projects on platforms
	// that support it; walking subgroups too would only duplicate entries,
	// which the caller's seen-set absorbs. Platforms returning only direct
	// projects rely on this walk for completeness.
	visited := map[string]bool{request.Group: true}
	queue := []string{request.Group}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		subgroups, err := s.source.ListSubgroups(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("scan subgroups of %s: %w", current, err)
		}
		for _, subgroup := range subgroups {
			if visited[subgroup.Path] {
				continue
			}
			visited[subgroup.Path] = true
			queue = append(queue, subgroup.Path)

			subProjects, err := s.source.ListGroupProjects(ctx, subgroup.Path, false)
			if err != nil {
				return nil, fmt.Errorf("scan group %s: %w", subgroup.Path, err)
			}
			projects = append(projects, subProjects...)
		}
	}
	return projects, nil
}

func targetName(project platform.ProjectDescriptor, naming Naming) (string, error) {
	switch naming {
	case NamingProjectName, "":
		return project.Name, nil
	case NamingNamespacePath:
		return strings.ReplaceAll(project.PathWithNamespace, "/", "-"), nil
	default:
		return "", platform.NewError(platform.KindConfiguration, "scan",
			fmt.Sprintf("unknown naming strategy %q", naming))
	}
}
