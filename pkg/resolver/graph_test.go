package resolver

import (
	"testing"

	"github.com/conarylabs/conary/pkg/version"
)

func mustVersion(t *testing.T, s string) version.RPMVersion {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("parsing version %q: %v", s, err)
	}
	return v
}

func anyEdge(from, to string) DependencyEdge {
	return DependencyEdge{From: from, To: to, Constraint: version.Any, DepType: "runtime"}
}

func TestGraphCreation(t *testing.T) {
	g := NewGraph()
	if len(g.nodes) != 0 || len(g.edges) != 0 {
		t.Fatal("expected empty graph")
	}
}

func TestAddNode(t *testing.T) {
	g := NewGraph()
	node := NewPackageNode("test-package", mustVersion(t, "1.0.0"))
	g.AddNode(node)

	got, ok := g.GetNode("test-package")
	if !ok || got != node {
		t.Fatalf("GetNode returned (%+v, %v), want (%+v, true)", got, ok, node)
	}
}

func TestAddEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode(NewPackageNode("package-a", mustVersion(t, "1.0.0")))
	g.AddNode(NewPackageNode("package-b", mustVersion(t, "2.0.0")))
	g.AddEdge(anyEdge("package-a", "package-b"))

	deps := g.GetDependencies("package-a")
	if len(deps) != 1 || deps[0].To != "package-b" {
		t.Fatalf("unexpected dependencies: %+v", deps)
	}

	dependents := g.GetDependents("package-b")
	if len(dependents) != 1 || dependents[0] != "package-a" {
		t.Fatalf("unexpected dependents: %+v", dependents)
	}
}

func TestTopologicalSortSimple(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"A", "B", "C"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("A", "B"))
	g.AddEdge(anyEdge("B", "C"))

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int, len(sorted))
	for i, name := range sorted {
		pos[name] = i
	}
	if !(pos["C"] < pos["B"] && pos["B"] < pos["A"]) {
		t.Fatalf("expected C before B before A, got %v", sorted)
	}
}

func TestTopologicalSortDiamond(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"A", "B", "C", "D"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("A", "B"))
	g.AddEdge(anyEdge("A", "C"))
	g.AddEdge(anyEdge("B", "D"))
	g.AddEdge(anyEdge("C", "D"))

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int, len(sorted))
	for i, name := range sorted {
		pos[name] = i
	}
	if !(pos["D"] < pos["B"] && pos["D"] < pos["C"] && pos["B"] < pos["A"] && pos["C"] < pos["A"]) {
		t.Fatalf("unexpected order: %v", sorted)
	}
}

func TestCycleDetectionSimple(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"A", "B", "C"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("A", "B"))
	g.AddEdge(anyEdge("B", "C"))
	g.AddEdge(anyEdge("C", "A"))

	if g.DetectCycle() == nil {
		t.Fatal("expected a cycle")
	}
	if _, err := g.TopologicalSort(); err == nil {
		t.Fatal("expected topological sort to fail on a cycle")
	}
}

func TestNoCycle(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"A", "B", "C"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("A", "B"))
	g.AddEdge(anyEdge("B", "C"))

	if g.DetectCycle() != nil {
		t.Fatal("expected no cycle")
	}
}

func TestDetectCycleInvolvingTolerantOfOtherCycles(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"glibc", "glibc-common", "app"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	// Pre-existing cycle unrelated to "app".
	g.AddEdge(anyEdge("glibc", "glibc-common"))
	g.AddEdge(anyEdge("glibc-common", "glibc"))
	g.AddEdge(anyEdge("app", "glibc"))

	if g.DetectCycleInvolving("app") != nil {
		t.Fatal("expected no cycle reported for app, which only touches the pre-existing cycle")
	}
	if g.DetectCycle() == nil {
		t.Fatal("expected DetectCycle to still find the glibc<->glibc-common cycle")
	}
}

func TestCheckConstraintsSatisfied(t *testing.T) {
	g := NewGraph()
	g.AddNode(NewPackageNode("lib", mustVersion(t, "2.0.0")))
	g.AddNode(NewPackageNode("app", mustVersion(t, "1.0.0")))

	constraint, err := version.ParseConstraint(">= 1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	g.AddEdge(DependencyEdge{From: "app", To: "lib", Constraint: constraint, DepType: "runtime"})

	if err := g.CheckConstraints("lib", mustVersion(t, "2.0.0")); err != nil {
		t.Fatalf("expected constraint to be satisfied: %v", err)
	}
}

func TestCheckConstraintsViolated(t *testing.T) {
	g := NewGraph()
	g.AddNode(NewPackageNode("lib", mustVersion(t, "0.5.0")))
	g.AddNode(NewPackageNode("app", mustVersion(t, "1.0.0")))

	constraint, err := version.ParseConstraint(">= 1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	g.AddEdge(DependencyEdge{From: "app", To: "lib", Constraint: constraint, DepType: "runtime"})

	if err := g.CheckConstraints("lib", mustVersion(t, "0.5.0")); err == nil {
		t.Fatal("expected constraint violation error")
	}
}

func TestFindBreakingPackages(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"lib", "app1", "app2"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("app1", "lib"))
	g.AddEdge(anyEdge("app2", "app1"))

	breaking := g.FindBreakingPackages("lib")
	if len(breaking) != 2 {
		t.Fatalf("expected 2 breaking packages, got %v", breaking)
	}
	want := map[string]bool{"app1": true, "app2": true}
	for _, name := range breaking {
		if !want[name] {
			t.Fatalf("unexpected breaking package %q", name)
		}
	}
}

func TestGraphStats(t *testing.T) {
	g := NewGraph()
	for _, name := range []string{"A", "B", "C"} {
		g.AddNode(NewPackageNode(name, mustVersion(t, "1.0.0")))
	}
	g.AddEdge(anyEdge("A", "B"))
	g.AddEdge(anyEdge("A", "C"))

	stats := g.Stats()
	if stats.TotalPackages != 3 {
		t.Fatalf("TotalPackages = %d, want 3", stats.TotalPackages)
	}
	if stats.TotalDependencies != 2 {
		t.Fatalf("TotalDependencies = %d, want 2", stats.TotalDependencies)
	}
	if stats.MaxDependencies != 2 {
		t.Fatalf("MaxDependencies = %d, want 2", stats.MaxDependencies)
	}
	if stats.MaxDependents != 1 {
		t.Fatalf("MaxDependents = %d, want 1", stats.MaxDependents)
	}
}
