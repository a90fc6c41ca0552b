// Package resolver builds the package dependency graph, orders installs via
// topological sort, detects cycles, and flags version conflicts ahead of a
// transaction, mirroring the checks Conary runs before a changeset is
// applied.
package resolver

import (
	"fmt"
	"sort"

	"github.com/conarylabs/conary/pkg/version"
)

// PackageNode is one package in the dependency graph.
type PackageNode struct {
	Name    string
	Version version.RPMVersion
	TroveID int64
	HasID   bool
}

// NewPackageNode builds a node with no trove ID.
func NewPackageNode(name string, v version.RPMVersion) PackageNode {
	return PackageNode{Name: name, Version: v}
}

// WithTroveID returns a copy of n with TroveID set.
func (n PackageNode) WithTroveID(id int64) PackageNode {
	n.TroveID = id
	n.HasID = true
	return n
}

// DependencyEdge records that From requires To, subject to Constraint.
type DependencyEdge struct {
	From       string
	To         string
	Constraint version.Constraint
	DepType    string
}

// Graph is a directed dependency graph: an edge From->To means From
// requires To. Forward edges are keyed by From; reverse edges by To, so
// dependents of a package can be found without a full scan.
type Graph struct {
	nodes        map[string]PackageNode
	edges        map[string][]DependencyEdge
	reverseEdges map[string][]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:        make(map[string]PackageNode),
		edges:        make(map[string][]DependencyEdge),
		reverseEdges: make(map[string][]string),
	}
}

// AddNode inserts or replaces the node for name.
func (g *Graph) AddNode(n PackageNode) {
	g.nodes[n.Name] = n
}

// AddEdge records a dependency, updating both the forward and reverse
// adjacency lists.
func (g *Graph) AddEdge(e DependencyEdge) {
	g.edges[e.From] = append(g.edges[e.From], e)
	g.reverseEdges[e.To] = append(g.reverseEdges[e.To], e.From)
}

// GetNode returns the node for name, if present.
func (g *Graph) GetNode(name string) (PackageNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// GetDependencies returns the outgoing edges from name.
func (g *Graph) GetDependencies(name string) []DependencyEdge {
	return g.edges[name]
}

// GetDependents returns the names of packages that directly depend on name.
func (g *Graph) GetDependents(name string) []string {
	return g.reverseEdges[name]
}

// ErrCycle is returned by TopologicalSort when the graph contains a cycle.
var ErrCycle = fmt.Errorf("circular dependency detected in package graph")

// TopologicalSort returns package names in install order: a package's
// dependencies always precede it. Implemented as Kahn's algorithm over the
// From->To edges, then reversed, since Kahn's naturally peels off
// dependents-first (zero in-degree means nothing depends on it yet).
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = 0
	}
	for _, edges := range g.edges {
		for _, e := range edges {
			inDegree[e.To]++
		}
	}

	names := make([]string, 0, len(inDegree))
	for name := range inDegree {
		names = append(names, name)
	}
	sort.Strings(names)

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		neighbors := make([]string, 0, len(g.edges[name]))
		for _, e := range g.edges[name] {
			neighbors = append(neighbors, e.To)
		}
		sort.Strings(neighbors)
		for _, to := range neighbors {
			if _, ok := inDegree[to]; !ok {
				continue
			}
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, ErrCycle
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// DetectCycle runs a DFS over the whole graph and returns the packages
// forming a cycle, or nil if the graph is acyclic.
func (g *Graph) DetectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		var cycle []string
		if g.dfsCycleDetect(name, visited, recStack, &cycle) {
			return cycle
		}
	}
	return nil
}

// DetectCycleInvolving runs the same DFS starting only from packageName, and
// reports a cycle only if packageName itself is part of it. This tolerates
// pre-existing cycles elsewhere in the graph (e.g. a mutual runtime
// dependency between two already-installed packages) while still rejecting
// a cycle introduced by the package currently being resolved.
func (g *Graph) DetectCycleInvolving(packageName string) []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycle []string

	if g.dfsCycleDetect(packageName, visited, recStack, &cycle) {
		for _, name := range cycle {
			if name == packageName {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) dfsCycleDetect(name string, visited, recStack map[string]bool, cycle *[]string) bool {
	visited[name] = true
	recStack[name] = true

	for _, e := range g.edges[name] {
		if !visited[e.To] {
			if g.dfsCycleDetect(e.To, visited, recStack, cycle) {
				// Stop extending once the cycle has closed on its first node,
				// so ancestors that only lead into the cycle are not listed.
				if c := *cycle; c[len(c)-1] != c[0] {
					*cycle = append(*cycle, name)
				}
				return true
			}
		} else if recStack[e.To] {
			*cycle = append(*cycle, e.To, name)
			return true
		}
	}

	recStack[name] = false
	return false
}

// CheckConstraints verifies that version satisfies every constraint placed
// on packageName by its current dependents.
func (g *Graph) CheckConstraints(packageName string, v version.RPMVersion) error {
	for _, dependent := range g.reverseEdges[packageName] {
		for _, e := range g.edges[dependent] {
			if e.To == packageName && !e.Constraint.Satisfies(v) {
				return fmt.Errorf("version %s of %s does not satisfy constraint %s required by %s",
					v, packageName, e.Constraint, dependent)
			}
		}
	}
	return nil
}

// FindBreakingPackages returns every package that directly or transitively
// depends on packageName, i.e. what would break if it were removed. The
// search is a BFS over reverse edges.
func (g *Graph) FindBreakingPackages(packageName string) []string {
	breaking := make(map[string]bool)
	queue := []string{packageName}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dependent := range g.reverseEdges[name] {
			if !breaking[dependent] {
				breaking[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	out := make([]string, 0, len(breaking))
	for name := range breaking {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes graph size and fan-out, used for capacity planning and
// diagnostics.
type Stats struct {
	TotalPackages     int
	TotalDependencies int
	MaxDependencies   int
	MaxDependents     int
}

// Stats computes summary statistics over the current graph.
func (g *Graph) Stats() Stats {
	s := Stats{TotalPackages: len(g.nodes)}
	for _, edges := range g.edges {
		s.TotalDependencies += len(edges)
		if len(edges) > s.MaxDependencies {
			s.MaxDependencies = len(edges)
		}
	}
	for _, dependents := range g.reverseEdges {
		if len(dependents) > s.MaxDependents {
			s.MaxDependents = len(dependents)
		}
	}
	return s
}
