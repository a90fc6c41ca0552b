package txn

import (
	"context"
	"testing"

	"github.com/conarylabs/conary/pkg/storage"
)

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/usr/lib/*.so*", "/usr/lib/libfoo.so.1", true},
		{"/usr/lib/*.so*,/usr/lib64/*.so*", "/usr/lib64/libbar.so", true},
		{"/usr/share/mime/*", "/usr/bin/greeter", false},
		{"", "/usr/bin/greeter", false},
	}
	for _, c := range cases {
		if got := matchesPattern(c.pattern, c.path); got != c.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestHandlerExistsLiveRoot(t *testing.T) {
	if handlerExists("") {
		t.Fatal("expected empty handler to not exist")
	}
	if handlerExists("/nonexistent/path/to/binary") {
		t.Fatal("expected nonexistent absolute path to not exist")
	}
	if !handlerExists("sh") {
		t.Fatal("expected 'sh' to resolve via PATH")
	}
}

func TestTriggerExecutorRecordAndExecutePending(t *testing.T) {
	dataDir := t.TempDir()
	store, err := storage.NewSQLiteStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	exec := NewTriggerExecutor(store, "/").WithDryRun(true)

	changesetID := int64(1)
	paths := []string{"/usr/lib/libfoo.so.1", "/usr/bin/greeter"}

	if err := exec.RecordMatches(ctx, changesetID, paths); err != nil {
		t.Fatal(err)
	}

	pending, err := store.PendingChangesetTriggers(ctx, changesetID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "ldconfig" {
		t.Fatalf("pending triggers = %v, want just ldconfig", pending)
	}

	results, err := exec.ExecutePending(ctx, changesetID)
	if err != nil {
		t.Fatal(err)
	}
	if results.Skipped != 1 || results.Succeeded != 0 || results.Failed != 0 {
		t.Fatalf("results = %+v, want all dry-run skips", results)
	}
}
