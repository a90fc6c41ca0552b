package vfs

import "testing"

func TestNewTreeHasRoot(t *testing.T) {
	tree := New()
	if tree.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tree.Len())
	}
	if !tree.Exists("/") {
		t.Fatal("expected root to exist")
	}
	if !tree.Node(tree.Root()).IsDirectory() {
		t.Fatal("expected root to be a directory")
	}
}

func TestMkdirCreatesDirectory(t *testing.T) {
	tree := New()
	id, err := tree.Mkdir("/usr")
	if err != nil {
		t.Fatal(err)
	}
	if !tree.Exists("/usr") {
		t.Fatal("expected /usr to exist")
	}
	if !tree.Node(id).IsDirectory() {
		t.Fatal("expected /usr to be a directory")
	}
}

func TestMkdirNested(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/usr")
	mustMkdir(t, tree, "/usr/bin")
	mustMkdir(t, tree, "/usr/lib")

	for _, p := range []string{"/usr", "/usr/bin", "/usr/lib"} {
		if !tree.Exists(p) {
			t.Fatalf("expected %s to exist", p)
		}
	}
}

func TestMkdirFailsWithoutParent(t *testing.T) {
	tree := New()
	if _, err := tree.Mkdir("/usr/bin"); err == nil {
		t.Fatal("expected error creating directory without parent")
	}
}

func TestMkdirAllCreatesParents(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/usr/local/bin"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/usr", "/usr/local", "/usr/local/bin"} {
		if !tree.Exists(p) {
			t.Fatalf("expected %s to exist", p)
		}
	}
}

func TestAddFile(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/usr")
	mustMkdir(t, tree, "/usr/bin")

	id, err := tree.AddFile("/usr/bin/bash", "abc123", 1024, 0o755)
	if err != nil {
		t.Fatal(err)
	}
	if !tree.Exists("/usr/bin/bash") {
		t.Fatal("expected /usr/bin/bash to exist")
	}
	node := tree.Node(id)
	if !node.IsFile() {
		t.Fatal("expected a file node")
	}
	if node.Permissions != 0o755 {
		t.Fatalf("Permissions = %o, want 0755", node.Permissions)
	}
	if node.Digest != "abc123" || node.Size != 1024 {
		t.Fatalf("Digest/Size = %q/%d, want abc123/1024", node.Digest, node.Size)
	}
}

func TestAddSymlink(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/usr")
	mustMkdir(t, tree, "/usr/bin")

	id, err := tree.AddSymlink("/usr/bin/sh", "/bin/bash")
	if err != nil {
		t.Fatal(err)
	}
	node := tree.Node(id)
	if !node.IsSymlink() {
		t.Fatal("expected a symlink node")
	}
	if node.Target != "/bin/bash" {
		t.Fatalf("Target = %q, want /bin/bash", node.Target)
	}
}

func TestLookupIsConstantTimeRegardlessOfDepth(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/very/deep/nested/directory/structure"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/very/deep/nested/directory/structure/file.txt", "hash", 100, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.Lookup("/very/deep/nested/directory/structure/file.txt"); !ok {
		t.Fatal("expected lookup to find the file")
	}
}

func TestPathReconstruction(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/usr/local/bin"); err != nil {
		t.Fatal(err)
	}
	id, err := tree.AddFile("/usr/local/bin/myapp", "hash", 100, 0o755)
	if err != nil {
		t.Fatal(err)
	}
	if got := tree.Path(id); got != "/usr/local/bin/myapp" {
		t.Fatalf("Path() = %q, want /usr/local/bin/myapp", got)
	}
}

func TestWalkVisitsEveryNode(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/etc")
	if _, err := tree.AddFile("/etc/passwd", "hash1", 100, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/etc/shadow", "hash2", 100, 0o600); err != nil {
		t.Fatal(err)
	}
	mustMkdir(t, tree, "/etc/conf.d")

	var visited []string
	tree.Walk(func(_ NodeID, _ *Node, p string) { visited = append(visited, p) })

	for _, want := range []string{"/", "/etc", "/etc/passwd", "/etc/shadow", "/etc/conf.d"} {
		found := false
		for _, v := range visited {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected walk to visit %s, got %v", want, visited)
		}
	}
}

func TestRemove(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/usr/local/bin"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/usr/local/bin/app", "hash", 100, 0o755); err != nil {
		t.Fatal(err)
	}
	if !tree.Exists("/usr/local/bin/app") {
		t.Fatal("expected file to exist before remove")
	}
	if err := tree.Remove("/usr/local/bin/app"); err != nil {
		t.Fatal(err)
	}
	if tree.Exists("/usr/local/bin/app") {
		t.Fatal("expected file to be gone after remove")
	}
}

func TestRemoveDirectoryRemovesChildren(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/usr/local/bin"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/usr/local/bin/app1", "hash1", 100, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/usr/local/bin/app2", "hash2", 100, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := tree.Remove("/usr/local"); err != nil {
		t.Fatal(err)
	}

	if !tree.Exists("/usr") {
		t.Fatal("expected /usr to survive")
	}
	for _, p := range []string{"/usr/local", "/usr/local/bin", "/usr/local/bin/app1", "/usr/local/bin/app2"} {
		if tree.Exists(p) {
			t.Fatalf("expected %s to be removed", p)
		}
	}
}

func TestCannotRemoveRoot(t *testing.T) {
	tree := New()
	if err := tree.Remove("/"); err == nil {
		t.Fatal("expected error removing root")
	}
}

func TestReparentSimple(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/src")
	mustMkdir(t, tree, "/dest")
	if _, err := tree.AddFile("/src/file.txt", "hash", 100, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tree.Reparent("/src/file.txt", "/dest"); err != nil {
		t.Fatal(err)
	}
	if tree.Exists("/src/file.txt") {
		t.Fatal("expected old path to be gone")
	}
	if !tree.Exists("/dest/file.txt") {
		t.Fatal("expected new path to exist")
	}
}

func TestReparentDirectoryWithChildren(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/project/src/components"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/project/src/components/button.rs", "hash1", 100, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/project/src/components/input.rs", "hash2", 100, 0o644); err != nil {
		t.Fatal(err)
	}
	mustMkdir(t, tree, "/project/lib")

	if err := tree.Reparent("/project/src/components", "/project/lib"); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"/project/src/components", "/project/src/components/button.rs", "/project/src/components/input.rs"} {
		if tree.Exists(p) {
			t.Fatalf("expected old path %s to be gone", p)
		}
	}
	for _, p := range []string{"/project/lib/components", "/project/lib/components/button.rs", "/project/lib/components/input.rs"} {
		if !tree.Exists(p) {
			t.Fatalf("expected new path %s to exist", p)
		}
	}
}

func TestReparentToRoot(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/deep/nested/dir"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.AddFile("/deep/nested/dir/file.txt", "hash", 100, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tree.Reparent("/deep/nested/dir", "/"); err != nil {
		t.Fatal(err)
	}
	if tree.Exists("/deep/nested/dir") {
		t.Fatal("expected old path to be gone")
	}
	if !tree.Exists("/dir/file.txt") {
		t.Fatal("expected /dir/file.txt to exist")
	}
}

func TestReparentCannotMoveRoot(t *testing.T) {
	tree := New()
	mustMkdir(t, tree, "/dest")
	if err := tree.Reparent("/", "/dest"); err == nil {
		t.Fatal("expected error reparenting root")
	}
}

func TestReparentRejectsCycle(t *testing.T) {
	tree := New()
	if _, err := tree.MkdirAll("/a/b"); err != nil {
		t.Fatal(err)
	}
	if err := tree.Reparent("/a", "/a/b"); err == nil {
		t.Fatal("expected error reparenting a directory into its own subtree")
	}
}

func mustMkdir(t *testing.T, tree *Tree, p string) {
	t.Helper()
	if _, err := tree.Mkdir(p); err != nil {
		t.Fatalf("mkdir %s: %v", p, err)
	}
}
