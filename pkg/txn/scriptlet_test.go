package txn

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conarylabs/conary/pkg/conaryerr"
)

func TestScriptletRunnerRunsLiveRoot(t *testing.T) {
	runner := NewScriptletRunner("/")

	err := runner.RunPhase(context.Background(), "post-install", []ScriptletSpec{
		{Phase: "post-install", Interpreter: "/bin/sh", Content: "exit 0\n"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestScriptletRunnerSkipsOtherPhases(t *testing.T) {
	runner := NewScriptletRunner("/")

	err := runner.RunPhase(context.Background(), "post-install", []ScriptletSpec{
		{Phase: "pre-remove", Interpreter: "/bin/sh", Content: "exit 1\n"},
	})
	if err != nil {
		t.Fatalf("expected non-matching phase to be skipped, got %v", err)
	}
}

func TestScriptletRunnerFailureReturnsConflict(t *testing.T) {
	runner := NewScriptletRunner("/")

	err := runner.RunPhase(context.Background(), "post-install", []ScriptletSpec{
		{Phase: "post-install", Interpreter: "/bin/sh", Content: "exit 3\n"},
	})
	if err == nil {
		t.Fatal("expected error from failing scriptlet")
	}
	if conaryerr.KindOf(err) != conaryerr.KindConflict {
		t.Fatalf("KindOf(err) = %v, want KindConflict", conaryerr.KindOf(err))
	}
}

func TestScriptletRunnerTimeout(t *testing.T) {
	runner := NewScriptletRunner("/").WithTimeout(50 * time.Millisecond)

	err := runner.RunPhase(context.Background(), "post-install", []ScriptletSpec{
		{Phase: "post-install", Interpreter: "/bin/sh", Content: "sleep 5\n"},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if conaryerr.KindOf(err) != conaryerr.KindTimeout {
		t.Fatalf("KindOf(err) = %v, want KindTimeout", conaryerr.KindOf(err))
	}
}

func TestScriptletRunnerDryRunSkipsExecution(t *testing.T) {
	runner := NewScriptletRunner("/").WithDryRun(true)

	err := runner.RunPhase(context.Background(), "post-install", []ScriptletSpec{
		{Phase: "post-install", Interpreter: "/bin/sh", Content: "exit 3\n"},
	})
	if err != nil {
		t.Fatalf("dry run should never fail, got %v", err)
	}
}

func TestHandlerExistsInRoot(t *testing.T) {
	root := t.TempDir()
	if handlerExistsInRoot("ldconfig", root) {
		t.Fatal("expected ldconfig to be absent from empty root")
	}

	if err := os.MkdirAll(filepath.Join(root, "usr/sbin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "usr/sbin/ldconfig"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !handlerExistsInRoot("ldconfig", root) {
		t.Fatal("expected ldconfig to be found under usr/sbin")
	}
}
