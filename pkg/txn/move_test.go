package txn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMoveFileAtomicSameFS(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := moveFileAtomic(src, dst); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected src to be gone after move")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("dst content = %q, want hello", data)
	}
}

func TestMoveFileAtomicPreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "dst")

	content := []byte("the quick brown fox")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := moveFileAtomic(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestSafeJoinContainsTraversal(t *testing.T) {
	root := t.TempDir()

	// A ".." sequence is cleaned against the leading "/" before joining, so
	// it can never walk above root no matter how many levels it climbs.
	got, err := safeJoin(root, "/../../etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "etc/passwd")
	if got != want {
		t.Fatalf("safeJoin = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, filepath.Clean(root)+string(filepath.Separator)) {
		t.Fatalf("safeJoin result %q escaped root %q", got, root)
	}
}

func TestSafeJoinNormalPath(t *testing.T) {
	root := t.TempDir()

	got, err := safeJoin(root, "/usr/bin/ls")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "usr/bin/ls")
	if got != want {
		t.Fatalf("safeJoin = %q, want %q", got, want)
	}
}
