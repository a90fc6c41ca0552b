package txn

import (
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/pkg/conaryerr"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conary.lock")

	f, err := acquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := releaseLock(f); err != nil {
		t.Fatal(err)
	}

	// Lock should be acquirable again once released.
	f2, err := acquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	releaseLock(f2)
}

func TestAcquireLockFailsWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conary.lock")

	held, err := acquireLock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer releaseLock(held)

	_, err = acquireLock(path)
	if err == nil {
		t.Fatal("expected acquireLock to fail while lock is held")
	}
	if conaryerr.KindOf(err) != conaryerr.KindConflict {
		t.Fatalf("KindOf(err) = %v, want KindConflict", conaryerr.KindOf(err))
	}
}
