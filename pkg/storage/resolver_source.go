package storage

import (
	"context"
	"fmt"

	"github.com/conarylabs/conary/pkg/resolver"
	"github.com/conarylabs/conary/pkg/version"
)

// ResolverSource adapts a Store into a resolver.Source, translating troves
// and dependencies into the graph types the resolver operates on.
type ResolverSource struct {
	store Store
}

// NewResolverSource wraps store for use with resolver.New.
func NewResolverSource(store Store) *ResolverSource {
	return &ResolverSource{store: store}
}

// ListInstalledTroves loads every trove of type "package" as a graph node.
func (s *ResolverSource) ListInstalledTroves(ctx context.Context) ([]resolver.PackageNode, error) {
	troves, err := s.store.ListTroves(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]resolver.PackageNode, 0, len(troves))
	for _, t := range troves {
		if t.Type != "package" && t.Type != "" {
			continue
		}
		v, err := version.Parse(t.Version)
		if err != nil {
			return nil, fmt.Errorf("parsing version of trove %s: %w", t.Name, err)
		}
		nodes = append(nodes, resolver.NewPackageNode(t.Name, v).WithTroveID(t.ID))
	}
	return nodes, nil
}

// ListDependencies loads troveID's dependency edges, parsing each stored
// constraint string through pkg/version.
func (s *ResolverSource) ListDependencies(ctx context.Context, troveID int64) ([]resolver.DependencyEdge, error) {
	deps, err := s.store.ListDependenciesByTrove(ctx, troveID)
	if err != nil {
		return nil, err
	}

	trove, err := s.store.GetTrove(ctx, troveID)
	if err != nil {
		return nil, err
	}

	edges := make([]resolver.DependencyEdge, 0, len(deps))
	for _, d := range deps {
		c := version.Any
		if d.VersionConstraint != "" {
			c, err = version.ParseConstraint(d.VersionConstraint)
			if err != nil {
				return nil, fmt.Errorf("parsing constraint %q on dependency %s of %s: %w",
					d.VersionConstraint, d.DependsOnName, trove.Name, err)
			}
		}
		edges = append(edges, resolver.DependencyEdge{
			From:       trove.Name,
			To:         d.DependsOnName,
			Constraint: c,
			DepType:    d.DependencyType,
		})
	}
	return edges, nil
}
