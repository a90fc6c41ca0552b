package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// fakeProbe is an in-memory FileProbe: existingByPath simulates files
// already on disk and tracked in the metadata store.
type fakeProbe struct {
	existingByPath map[string]ExistingFile
	untracked      map[string]bool
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{existingByPath: map[string]ExistingFile{}, untracked: map[string]bool{}}
}

func (p *fakeProbe) Exists(path string) bool {
	_, tracked := p.existingByPath[path]
	return tracked || p.untracked[path]
}

func (p *fakeProbe) Tracked(path string) (ExistingFile, bool) {
	f, ok := p.existingByPath[path]
	return f, ok
}

func (p *fakeProbe) Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (p *fakeProbe) SymlinkDigest(target string) string {
	return p.Digest([]byte("symlink:" + target))
}

func TestPlanSimpleInstall(t *testing.T) {
	probe := newFakeProbe()
	planner := NewPlanner(probe)

	files := []ExtractedFile{{Path: "/usr/bin/hello", Content: []byte("#!/bin/bash\necho hello"), Mode: 0o755}}
	plan := planner.PlanInstall(files, nil, "hello", false)

	if plan.HasConflicts() {
		t.Fatalf("expected no conflicts, got %+v", plan.Conflicts)
	}
	if len(plan.FilesToStage) != 1 {
		t.Fatalf("expected 1 file to stage, got %d", len(plan.FilesToStage))
	}
	if !contains(plan.DirsToCreate, "/usr/bin") {
		t.Fatalf("expected /usr/bin scheduled for creation, got %v", plan.DirsToCreate)
	}
}

func TestPlanDetectsUntrackedConflict(t *testing.T) {
	probe := newFakeProbe()
	probe.untracked["/usr/bin/existing"] = true
	planner := NewPlanner(probe)

	files := []ExtractedFile{{Path: "/usr/bin/existing", Content: []byte("new content"), Mode: 0o755}}
	plan := planner.PlanInstall(files, nil, "test", false)

	if !plan.HasConflicts() {
		t.Fatal("expected a conflict")
	}
	if plan.Conflicts[0].Kind != ConflictUntrackedFileExists {
		t.Fatalf("expected ConflictUntrackedFileExists, got %v", plan.Conflicts[0].Kind)
	}
}

func TestPlanDetectsFileOwnedByOther(t *testing.T) {
	probe := newFakeProbe()
	probe.existingByPath["/usr/bin/shared"] = ExistingFile{TroveName: "other-pkg", Hash: "h1", Mode: 0o755, Size: 10}
	planner := NewPlanner(probe)

	files := []ExtractedFile{{Path: "/usr/bin/shared", Content: []byte("mine"), Mode: 0o755}}
	plan := planner.PlanInstall(files, nil, "my-pkg", false)

	if !plan.HasConflicts() {
		t.Fatal("expected a conflict")
	}
	if plan.Conflicts[0].Kind != ConflictFileOwnedByOther || plan.Conflicts[0].Owner != "other-pkg" {
		t.Fatalf("unexpected conflict: %+v", plan.Conflicts[0])
	}
}

func TestPlanSummary(t *testing.T) {
	plan := &Plan{
		Tree: New(),
		Operations: []Operation{
			{Path: "/usr/bin", Type: OpMkdir, NewMode: 0o755, HasNewMode: true},
			{Path: "/usr/bin/foo", Type: OpAddFile, NewDigest: "abc", NewMode: 0o755, HasNewMode: true},
			{Path: "/usr/bin/bar", Type: OpReplaceFile, NewDigest: "def", NewMode: 0o755, HasNewMode: true},
		},
		DirsToCreate: []string{"/usr/bin"},
	}

	s := plan.Summary()
	if s.TotalOperations != 3 {
		t.Fatalf("TotalOperations = %d, want 3", s.TotalOperations)
	}
	if s.FilesToAdd != 2 {
		t.Fatalf("FilesToAdd = %d, want 2 (mkdir + addfile)", s.FilesToAdd)
	}
	if s.FilesToReplace != 1 {
		t.Fatalf("FilesToReplace = %d, want 1", s.FilesToReplace)
	}
	if s.DirsToCreate != 1 {
		t.Fatalf("DirsToCreate = %d, want 1", s.DirsToCreate)
	}
}

func TestPlanUpgradeWithRemovedFiles(t *testing.T) {
	probe := newFakeProbe()
	probe.existingByPath["/usr/bin/old"] = ExistingFile{TroveName: "test", Hash: "oldhash", Mode: 0o755, Size: 11}
	planner := NewPlanner(probe)

	newFiles := []ExtractedFile{{Path: "/usr/bin/new", Content: []byte("new content"), Mode: 0o755}}
	oldFiles := []FileToRemove{{Path: "/usr/bin/old", Hash: "oldhash", Size: 11, Mode: 0o755}}

	plan := planner.PlanInstall(newFiles, oldFiles, "test", true)

	if plan.HasConflicts() {
		t.Fatalf("expected no conflicts, got %+v", plan.Conflicts)
	}

	foundRemove := false
	for _, op := range plan.Operations {
		if op.Type == OpRemoveFile && op.Path == "/usr/bin/old" {
			foundRemove = true
		}
	}
	if !foundRemove {
		t.Fatal("expected a RemoveFile operation for /usr/bin/old")
	}

	foundBackup := false
	for _, b := range plan.FilesToBackup {
		if b.Path == "/usr/bin/old" {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Fatal("expected /usr/bin/old in the backup list")
	}
}
