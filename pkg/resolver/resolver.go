package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conarylabs/conary/pkg/version"
)

// Conflict is a problem found while resolving a dependency graph. Each
// variant carries enough context to render a standalone diagnostic.
type Conflict struct {
	Kind ConflictKind

	// UnsatisfiableConstraint / ConflictingConstraints
	Package string

	// UnsatisfiableConstraint
	InstalledVersion   string
	RequiredConstraint string
	RequiredBy         string

	// ConflictingConstraints: (requirer, constraint) pairs
	Constraints []RequirerConstraint

	// CircularDependency
	Cycle []string

	// MissingPackage
	RequiredByAll []string
}

// ConflictKind discriminates the Conflict union.
type ConflictKind int

const (
	// UnsatisfiableConstraint: the installed version of Package does not
	// satisfy RequiredConstraint from RequiredBy.
	UnsatisfiableConstraint ConflictKind = iota
	// ConflictingConstraints: two or more requirers place incompatible
	// constraints on Package.
	ConflictingConstraints
	// CircularDependency: Cycle forms a dependency loop.
	CircularDependency
	// MissingPackage: Package is required but not present in the graph.
	MissingPackage
)

// RequirerConstraint pairs a requiring package with the constraint it places.
type RequirerConstraint struct {
	Requirer   string
	Constraint string
}

func (c Conflict) String() string {
	switch c.Kind {
	case UnsatisfiableConstraint:
		return fmt.Sprintf("package %s version %s does not satisfy constraint %s required by %s",
			c.Package, c.InstalledVersion, c.RequiredConstraint, c.RequiredBy)
	case ConflictingConstraints:
		s := fmt.Sprintf("conflicting version requirements for package %s:\n", c.Package)
		for _, rc := range c.Constraints {
			s += fmt.Sprintf("  - %s requires %s\n", rc.Requirer, rc.Constraint)
		}
		return s
	case CircularDependency:
		s := "circular dependency:"
		for i, name := range c.Cycle {
			if i > 0 {
				s += " ->"
			}
			s += " " + name
		}
		return s
	case MissingPackage:
		s := fmt.Sprintf("missing package %s required by ", c.Package)
		for i, r := range c.RequiredByAll {
			if i > 0 {
				s += ", "
			}
			s += r
		}
		return s
	default:
		return "unknown conflict"
	}
}

// MissingDependency names a package referenced by the graph but not present
// in it, along with who required it and under what constraint.
type MissingDependency struct {
	Name       string
	Constraint version.Constraint
	RequiredBy []string
}

// ResolutionPlan is the outcome of resolving a dependency graph: an install
// order (when one exists), any unresolvable dependencies, and any conflicts
// that must be surfaced to the caller before a transaction proceeds.
type ResolutionPlan struct {
	InstallOrder []string
	Missing      []MissingDependency
	Conflicts    []Conflict
}

// OK reports whether the plan has no missing dependencies or conflicts.
func (p ResolutionPlan) OK() bool {
	return len(p.Missing) == 0 && len(p.Conflicts) == 0
}

// Source loads the installed-package graph from durable storage. Satisfied
// by the metadata store so the resolver never depends on a storage engine
// directly.
type Source interface {
	ListInstalledTroves(ctx context.Context) ([]PackageNode, error)
	ListDependencies(ctx context.Context, troveID int64) ([]DependencyEdge, error)
}

// Resolver computes installation plans and removal impact over a
// DependencyGraph.
type Resolver struct {
	graph *Graph
}

// New builds a Resolver by loading the current installed-package graph from
// source.
func New(ctx context.Context, source Source) (*Resolver, error) {
	g, err := buildFromSource(ctx, source)
	if err != nil {
		return nil, err
	}
	return &Resolver{graph: g}, nil
}

// WithGraph builds a Resolver around an already-constructed graph, mainly
// useful for tests.
func WithGraph(g *Graph) *Resolver {
	return &Resolver{graph: g}
}

func buildFromSource(ctx context.Context, source Source) (*Graph, error) {
	g := NewGraph()

	troves, err := source.ListInstalledTroves(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading installed troves: %w", err)
	}
	for _, t := range troves {
		g.AddNode(t)
	}
	for _, t := range troves {
		if !t.HasID {
			continue
		}
		edges, err := source.ListDependencies(ctx, t.TroveID)
		if err != nil {
			return nil, fmt.Errorf("loading dependencies for %s: %w", t.Name, err)
		}
		for _, e := range edges {
			g.AddEdge(e)
		}
	}
	return g, nil
}

// Graph returns the resolver's underlying dependency graph.
func (r *Resolver) Graph() *Graph {
	return r.graph
}

// ResolveInstall adds a candidate package and its dependency edges to the
// graph, then resolves only that package's own edges against the rest of
// the graph. This intentionally skips the full-graph cycle scan Resolve
// runs: a brand-new package has no existing dependents, so no path can lead
// back to it, and it would otherwise falsely implicate the new package in
// any pre-existing tolerated cycle (e.g. glibc <-> glibc-common) elsewhere
// in the graph. The install order for a single package is just itself; its
// dependencies are assumed already installed.
func (r *Resolver) ResolveInstall(name string, v version.RPMVersion, deps []DependencyEdge) ResolutionPlan {
	r.graph.AddNode(NewPackageNode(name, v))
	for _, d := range deps {
		r.graph.AddEdge(d)
	}
	return r.resolveSingleInstall(name)
}

// isVirtualProvide reports whether name is a capability string rather than
// an installable package: perl(Cwd)-style module provides, pkgconfig(foo),
// python3dist(bar), soname provides like libfoo.so.1, or bare file-path
// dependencies. These never have a node of their own in the graph, so they
// must not be reported as missing or version-checked like a real package.
func isVirtualProvide(name string) bool {
	if strings.Contains(name, "(") {
		return true
	}
	if strings.HasPrefix(name, "lib") && strings.Contains(name, ".so") {
		return true
	}
	return strings.HasPrefix(name, "/")
}

func (r *Resolver) resolveSingleInstall(packageName string) ResolutionPlan {
	var missing []MissingDependency
	var conflicts []Conflict

	for _, e := range r.graph.edges[packageName] {
		if isVirtualProvide(e.To) {
			continue
		}

		node, ok := r.graph.GetNode(e.To)
		if !ok {
			missing = append(missing, MissingDependency{
				Name:       e.To,
				Constraint: e.Constraint,
				RequiredBy: []string{packageName},
			})
			continue
		}

		if !e.Constraint.Satisfies(node.Version) {
			conflicts = append(conflicts, Conflict{
				Kind:               UnsatisfiableConstraint,
				Package:            e.To,
				InstalledVersion:   node.Version.String(),
				RequiredConstraint: e.Constraint.String(),
				RequiredBy:         packageName,
			})
		}
	}

	return ResolutionPlan{
		InstallOrder: []string{packageName},
		Missing:      missing,
		Conflicts:    conflicts,
	}
}

// Resolve computes a ResolutionPlan for the current graph: cycle detection
// first (a cycle makes ordering meaningless, so it short-circuits with an
// empty install order), then missing-dependency and constraint checks, then
// topological sort.
func (r *Resolver) Resolve() (ResolutionPlan, error) {
	var conflicts []Conflict
	var missing []MissingDependency

	if cycle := r.graph.DetectCycle(); cycle != nil {
		conflicts = append(conflicts, Conflict{Kind: CircularDependency, Cycle: cycle})
		return ResolutionPlan{Missing: missing, Conflicts: conflicts}, nil
	}

	missing = r.findMissingDependencies()
	conflicts = append(conflicts, r.checkAllConstraints()...)

	order, err := r.graph.TopologicalSort()
	if err != nil {
		// Already ruled out by DetectCycle above; treat defensively.
		return ResolutionPlan{Missing: missing, Conflicts: conflicts}, nil
	}

	return ResolutionPlan{InstallOrder: order, Missing: missing, Conflicts: conflicts}, nil
}

func (r *Resolver) findMissingDependencies() []MissingDependency {
	type entry struct {
		constraint version.Constraint
		requiredBy []string
	}
	byName := make(map[string]*entry)
	var order []string

	names := make([]string, 0, len(r.graph.edges))
	for name := range r.graph.edges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, packageName := range names {
		for _, e := range r.graph.edges[packageName] {
			if _, ok := r.graph.GetNode(e.To); ok {
				continue
			}
			ent, exists := byName[e.To]
			if !exists {
				ent = &entry{constraint: e.Constraint}
				byName[e.To] = ent
				order = append(order, e.To)
			}
			ent.requiredBy = append(ent.requiredBy, packageName)
		}
	}

	out := make([]MissingDependency, 0, len(order))
	for _, name := range order {
		ent := byName[name]
		out = append(out, MissingDependency{Name: name, Constraint: ent.constraint, RequiredBy: ent.requiredBy})
	}
	return out
}

func (r *Resolver) checkAllConstraints() []Conflict {
	type pair struct {
		requirer   string
		constraint version.Constraint
	}
	constraintsFor := make(map[string][]pair)
	var targets []string

	requirers := make([]string, 0, len(r.graph.edges))
	for name := range r.graph.edges {
		requirers = append(requirers, name)
	}
	sort.Strings(requirers)

	for _, requirer := range requirers {
		for _, e := range r.graph.edges[requirer] {
			if _, ok := constraintsFor[e.To]; !ok {
				targets = append(targets, e.To)
			}
			constraintsFor[e.To] = append(constraintsFor[e.To], pair{requirer, e.Constraint})
		}
	}
	sort.Strings(targets)

	var conflicts []Conflict
	for _, packageName := range targets {
		node, ok := r.graph.GetNode(packageName)
		if !ok {
			continue
		}
		constraints := constraintsFor[packageName]

		for _, c := range constraints {
			if !c.constraint.Satisfies(node.Version) {
				conflicts = append(conflicts, Conflict{
					Kind:               UnsatisfiableConstraint,
					Package:            packageName,
					InstalledVersion:   node.Version.String(),
					RequiredConstraint: c.constraint.String(),
					RequiredBy:         c.requirer,
				})
			}
		}

		if len(constraints) > 1 {
			conflicting := false
			for i := 0; i < len(constraints) && !conflicting; i++ {
				for j := i + 1; j < len(constraints); j++ {
					if !constraints[i].constraint.IsCompatibleWith(constraints[j].constraint) {
						conflicting = true
						break
					}
				}
			}
			if conflicting {
				rcs := make([]RequirerConstraint, 0, len(constraints))
				for _, c := range constraints {
					rcs = append(rcs, RequirerConstraint{Requirer: c.requirer, Constraint: c.constraint.String()})
				}
				conflicts = append(conflicts, Conflict{
					Kind:        ConflictingConstraints,
					Package:     packageName,
					Constraints: rcs,
				})
			}
		}
	}
	return conflicts
}

// CheckRemoval returns the packages that would break if packageName were
// removed: its transitive dependents.
func (r *Resolver) CheckRemoval(packageName string) []string {
	return r.graph.FindBreakingPackages(packageName)
}
