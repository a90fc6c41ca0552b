package txn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/pkg/vfs"
)

func TestTransactionFullInstallLifecycle(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tx, err := engine.Begin(ctx, "install greeter 1.0-1")
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("#!/bin/sh\necho hello\n")
	ops := Operations{
		Package: PackageInfo{Name: "greeter", Version: "1.0-1"},
		FilesToAdd: []vfs.ExtractedFile{
			{Path: "/usr/bin/greeter", Content: content, Mode: 0o755},
		},
	}

	plan, err := tx.Plan(ctx, ops)
	if err != nil {
		t.Fatal(err)
	}
	if plan.HasConflicts() {
		t.Fatalf("unexpected conflicts: %v", plan.Conflicts)
	}
	if tx.State() != StatePlanned {
		t.Fatalf("State() = %v, want StatePlanned", tx.State())
	}

	if err := tx.Prepare(ctx, ops.FilesToAdd); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StatePrepared {
		t.Fatalf("State() = %v, want StatePrepared", tx.State())
	}

	if err := tx.RunPreScripts(ctx, NewScriptletRunner(engine.config.Root)); err != nil {
		t.Fatal(err)
	}

	if err := tx.BackupFiles(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StateBackedUp {
		t.Fatalf("State() = %v, want StateBackedUp", tx.State())
	}

	if err := tx.StageFiles(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StateStaged {
		t.Fatalf("State() = %v, want StateStaged", tx.State())
	}

	result, err := tx.ApplyFilesystem(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesAdded != 1 {
		t.Fatalf("FilesAdded = %d, want 1", result.FilesAdded)
	}
	if tx.State() != StateFsApplied {
		t.Fatalf("State() = %v, want StateFsApplied", tx.State())
	}

	installed := filepath.Join(engine.config.Root, "usr", "bin", "greeter")
	data, err := os.ReadFile(installed)
	if err != nil {
		t.Fatalf("expected installed file at %s: %v", installed, err)
	}
	if string(data) != string(content) {
		t.Fatalf("installed content mismatch")
	}

	if err := tx.WriteDBCommitIntent(); err != nil {
		t.Fatal(err)
	}
	if err := tx.RecordDBCommit(1, 1); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StateDbApplied {
		t.Fatalf("State() = %v, want StateDbApplied", tx.State())
	}

	if err := tx.RunPostScripts(ctx, NewScriptletRunner(engine.config.Root), nil, 1); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StatePostScriptsComplete {
		t.Fatalf("State() = %v, want StatePostScriptsComplete", tx.State())
	}

	txRes, err := tx.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if txRes.TxUUID != tx.UUID() {
		t.Fatalf("Result.TxUUID = %q, want %q", txRes.TxUUID, tx.UUID())
	}
	if tx.State() != StateDone {
		t.Fatalf("State() = %v, want StateDone", tx.State())
	}

	if _, err := os.Stat(engine.TxnWorkDir(tx.UUID())); !os.IsNotExist(err) {
		t.Fatal("expected work dir to be removed after Finish")
	}
}

func TestTransactionAbortRestoresOriginalFile(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	original := filepath.Join(engine.config.Root, "etc", "greeter.conf")
	if err := os.MkdirAll(filepath.Dir(original), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(original, []byte("old config"), 0o644); err != nil {
		t.Fatal(err)
	}

	tx, err := engine.Begin(ctx, "upgrade greeter")
	if err != nil {
		t.Fatal(err)
	}

	ops := Operations{
		Package: PackageInfo{Name: "greeter", Version: "1.1-1"},
		FilesToAdd: []vfs.ExtractedFile{
			{Path: "/etc/greeter.conf", Content: []byte("new config"), Mode: 0o644},
		},
		FilesToRemove: []vfs.FileToRemove{
			{Path: "/etc/greeter.conf", Size: int64(len("old config")), Mode: 0o644},
		},
		IsUpgrade: true,
	}

	if _, err := tx.Plan(ctx, ops); err != nil {
		t.Fatal(err)
	}
	if err := tx.Prepare(ctx, ops.FilesToAdd); err != nil {
		t.Fatal(err)
	}
	if err := tx.BackupFiles(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.StageFiles(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ApplyFilesystem(ctx); err != nil {
		t.Fatal(err)
	}

	applied, err := os.ReadFile(original)
	if err != nil {
		t.Fatal(err)
	}
	if string(applied) != "new config" {
		t.Fatalf("expected new config applied before abort, got %q", applied)
	}

	if err := tx.Abort(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StateAborted {
		t.Fatalf("State() = %v, want StateAborted", tx.State())
	}

	restored, err := os.ReadFile(original)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "old config" {
		t.Fatalf("expected original config restored after abort, got %q", restored)
	}
}
