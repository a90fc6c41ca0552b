// Package vfs builds an in-memory, arena-allocated representation of the
// filesystem a transaction intends to produce, so conflicts can be detected
// and an operation plan can be emitted before anything on disk is touched.
package vfs

import (
	"path"
	"strings"

	"github.com/conarylabs/conary/pkg/conaryerr"
)

// NodeID indexes into Tree's node arena. The zero value is the root.
type NodeID int

// NodeKind discriminates the three node shapes a Tree can hold.
type NodeKind int

const (
	KindDirectory NodeKind = iota
	KindFile
	KindSymlink
)

// Node is one entry in the tree: a directory, a file (content-addressed by
// digest), or a symlink (identified by its target).
type Node struct {
	Name        string
	Kind        NodeKind
	Parent      NodeID
	HasParent   bool
	Children    []NodeID
	Permissions uint32

	// File
	Digest string
	Size   int64

	// Symlink
	Target string
}

func (n *Node) IsDirectory() bool { return n.Kind == KindDirectory }
func (n *Node) IsFile() bool      { return n.Kind == KindFile }
func (n *Node) IsSymlink() bool   { return n.Kind == KindSymlink }

// Tree is an arena-allocated filesystem tree: nodes live in a contiguous
// slice referenced by NodeID, and a path index gives O(1) lookup without
// walking the tree. Root is always NodeID(0).
type Tree struct {
	nodes     []Node
	pathIndex map[string]NodeID
}

// New returns a tree containing only the root directory.
func New() *Tree {
	t := &Tree{
		nodes:     make([]Node, 0, 64),
		pathIndex: make(map[string]NodeID, 64),
	}
	t.nodes = append(t.nodes, Node{Kind: KindDirectory, Permissions: 0o755})
	t.pathIndex["/"] = 0
	return t
}

// NewWithCapacity pre-sizes the arena and path index for approximately n nodes.
func NewWithCapacity(n int) *Tree {
	t := &Tree{
		nodes:     make([]Node, 0, n),
		pathIndex: make(map[string]NodeID, n),
	}
	t.nodes = append(t.nodes, Node{Kind: KindDirectory, Permissions: 0o755})
	t.pathIndex["/"] = 0
	return t
}

// Root returns the root node's ID.
func (t *Tree) Root() NodeID { return 0 }

// Len returns the total number of nodes, including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node for id. Panics on an out-of-range id: a stale or
// invalid NodeID is a caller bug, not a runtime condition to recover from.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Lookup returns the node ID for an absolute path, if present.
func (t *Tree) Lookup(p string) (NodeID, bool) {
	id, ok := t.pathIndex[normalize(p)]
	return id, ok
}

// Exists reports whether p is present in the tree.
func (t *Tree) Exists(p string) bool {
	_, ok := t.pathIndex[normalize(p)]
	return ok
}

// Get returns the node at p, or a NotFound error.
func (t *Tree) Get(p string) (*Node, error) {
	id, ok := t.Lookup(p)
	if !ok {
		return nil, conaryerr.New(conaryerr.KindNotFound, "path not found: "+p)
	}
	return t.Node(id), nil
}

// Path reconstructs the absolute path of id by walking up to the root.
func (t *Tree) Path(id NodeID) string {
	if id == 0 {
		return "/"
	}
	var parts []string
	for cur := id; ; {
		n := t.Node(cur)
		if !n.HasParent {
			break
		}
		parts = append(parts, n.Name)
		cur = n.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

func parentAndName(p string) (parent, name string) {
	p = normalize(p)
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

func (t *Tree) allocate(n Node) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return id
}

func (t *Tree) attach(parentID NodeID, childID NodeID, fullPath string) {
	t.nodes[parentID].Children = append(t.nodes[parentID].Children, childID)
	t.pathIndex[fullPath] = childID
}

// resolveParent returns the parent directory node for p, failing if it is
// missing or not a directory.
func (t *Tree) resolveParent(p string) (NodeID, error) {
	parentPath, _ := parentAndName(p)
	parentID, ok := t.Lookup(parentPath)
	if !ok {
		return 0, conaryerr.New(conaryerr.KindNotFound, "parent directory not found: "+parentPath)
	}
	if !t.Node(parentID).IsDirectory() {
		return 0, conaryerr.New(conaryerr.KindConflict, "parent is not a directory: "+parentPath)
	}
	return parentID, nil
}

// Mkdir creates a single directory at p with mode 0o755. The parent must
// already exist; use MkdirAll for recursive creation.
func (t *Tree) Mkdir(p string) (NodeID, error) {
	return t.MkdirMode(p, 0o755)
}

// MkdirMode is Mkdir with an explicit permission mode.
func (t *Tree) MkdirMode(p string, mode uint32) (NodeID, error) {
	p = normalize(p)
	if t.Exists(p) {
		return 0, conaryerr.New(conaryerr.KindConflict, "path already exists: "+p)
	}
	if p == "/" {
		return 0, conaryerr.New(conaryerr.KindUsage, "cannot create root")
	}

	parentID, err := t.resolveParent(p)
	if err != nil {
		return 0, err
	}
	_, name := parentAndName(p)

	id := t.allocate(Node{Name: name, Kind: KindDirectory, Parent: parentID, HasParent: true, Permissions: mode})
	t.attach(parentID, id, p)
	return id, nil
}

// MkdirAll creates p and any missing parent directories, parent-first. If p
// already exists as a directory it is returned without error.
func (t *Tree) MkdirAll(p string) (NodeID, error) {
	return t.MkdirAllMode(p, 0o755)
}

// MkdirAllMode is MkdirAll with an explicit permission mode for any
// directories it creates.
func (t *Tree) MkdirAllMode(p string, mode uint32) (NodeID, error) {
	p = normalize(p)
	if id, ok := t.Lookup(p); ok {
		if !t.Node(id).IsDirectory() {
			return 0, conaryerr.New(conaryerr.KindConflict, "path exists but is not a directory: "+p)
		}
		return id, nil
	}

	var toCreate []string
	for cur := p; !t.Exists(cur); {
		toCreate = append(toCreate, cur)
		if cur == "/" {
			break
		}
		parent, _ := parentAndName(cur)
		cur = parent
	}
	for i, j := 0, len(toCreate)-1; i < j; i, j = i+1, j-1 {
		toCreate[i], toCreate[j] = toCreate[j], toCreate[i]
	}

	var last NodeID
	for _, dir := range toCreate {
		id, err := t.MkdirMode(dir, mode)
		if err != nil {
			return 0, err
		}
		last = id
	}
	return last, nil
}

// AddFile inserts a regular file node at p, addressed by digest.
func (t *Tree) AddFile(p, digest string, size int64, mode uint32) (NodeID, error) {
	p = normalize(p)
	if t.Exists(p) {
		return 0, conaryerr.New(conaryerr.KindConflict, "path already exists: "+p)
	}
	parentID, err := t.resolveParent(p)
	if err != nil {
		return 0, err
	}
	_, name := parentAndName(p)

	id := t.allocate(Node{
		Name: name, Kind: KindFile, Parent: parentID, HasParent: true,
		Permissions: mode, Digest: digest, Size: size,
	})
	t.attach(parentID, id, p)
	return id, nil
}

// AddSymlink inserts a symlink node at p pointing at target.
func (t *Tree) AddSymlink(p, target string) (NodeID, error) {
	p = normalize(p)
	if t.Exists(p) {
		return 0, conaryerr.New(conaryerr.KindConflict, "path already exists: "+p)
	}
	parentID, err := t.resolveParent(p)
	if err != nil {
		return 0, err
	}
	_, name := parentAndName(p)

	id := t.allocate(Node{
		Name: name, Kind: KindSymlink, Parent: parentID, HasParent: true,
		Permissions: 0o777, Target: target,
	})
	t.attach(parentID, id, p)
	return id, nil
}

// Remove deletes the node at p and all its descendants from the tree. The
// arena slots are not compacted; only the path index and parent/child links
// are updated.
func (t *Tree) Remove(p string) error {
	p = normalize(p)
	if p == "/" {
		return conaryerr.New(conaryerr.KindUsage, "cannot remove root")
	}
	id, ok := t.Lookup(p)
	if !ok {
		return conaryerr.New(conaryerr.KindNotFound, "path not found: "+p)
	}

	descendants := t.collectDescendants(id)
	toRemove := append(descendants, id)

	parentID := t.Node(id).Parent
	parent := t.Node(parentID)
	parent.Children = removeID(parent.Children, id)

	for _, rid := range toRemove {
		delete(t.pathIndex, t.Path(rid))
	}
	return nil
}

func removeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (t *Tree) collectDescendants(id NodeID) []NodeID {
	var out []NodeID
	for _, child := range t.Node(id).Children {
		out = append(out, child)
		out = append(out, t.collectDescendants(child)...)
	}
	return out
}

// Reparent moves source (and its subtree) to become a child of newParent,
// keeping its current name. It rejects moves that would create a cycle
// (newParent is a descendant of source) or collide with an existing entry.
func (t *Tree) Reparent(source, newParent string) error {
	return t.ReparentRename(source, newParent, "")
}

// ReparentRename is Reparent but also renames the moved node; pass an empty
// newName to keep the current name.
func (t *Tree) ReparentRename(source, newParent, newName string) error {
	source = normalize(source)
	newParent = normalize(newParent)
	if source == "/" {
		return conaryerr.New(conaryerr.KindUsage, "cannot reparent root")
	}
	if newName != "" && strings.Contains(newName, "/") {
		return conaryerr.New(conaryerr.KindUsage, "invalid name: "+newName)
	}

	sourceID, ok := t.Lookup(source)
	if !ok {
		return conaryerr.New(conaryerr.KindNotFound, "source path not found: "+source)
	}
	newParentID, ok := t.Lookup(newParent)
	if !ok {
		return conaryerr.New(conaryerr.KindNotFound, "new parent not found: "+newParent)
	}
	if !t.Node(newParentID).IsDirectory() {
		return conaryerr.New(conaryerr.KindConflict, "new parent is not a directory: "+newParent)
	}
	if t.isDescendantOf(newParentID, sourceID) {
		return conaryerr.New(conaryerr.KindConflict, "cannot reparent a node into its own subtree")
	}

	name := newName
	if name == "" {
		name = t.Node(sourceID).Name
	}
	targetPath := path.Join(newParent, name)
	if t.Exists(targetPath) {
		return conaryerr.New(conaryerr.KindConflict, "path already exists: "+targetPath)
	}

	subtree := append([]NodeID{sourceID}, t.collectDescendants(sourceID)...)
	oldPaths := make([]string, len(subtree))
	for i, id := range subtree {
		oldPaths[i] = t.Path(id)
	}

	oldParentID := t.Node(sourceID).Parent
	oldParent := t.Node(oldParentID)
	oldParent.Children = removeID(oldParent.Children, sourceID)

	src := t.Node(sourceID)
	src.Parent = newParentID
	src.Name = name
	t.nodes[newParentID].Children = append(t.nodes[newParentID].Children, sourceID)

	for i, id := range subtree {
		delete(t.pathIndex, oldPaths[i])
		t.pathIndex[t.Path(id)] = id
	}
	return nil
}

func (t *Tree) isDescendantOf(descendant, ancestor NodeID) bool {
	cur := descendant
	for t.Node(cur).HasParent {
		cur = t.Node(cur).Parent
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Walk visits every node depth-first, calling visit with the node's ID and
// absolute path.
func (t *Tree) Walk(visit func(NodeID, *Node, string)) {
	t.walk(0, "/", visit)
}

func (t *Tree) walk(id NodeID, p string, visit func(NodeID, *Node, string)) {
	n := t.Node(id)
	visit(id, n, p)
	for _, child := range n.Children {
		childPath := path.Join(p, t.Node(child).Name)
		t.walk(child, childPath, visit)
	}
}

// Stats summarizes the tree's contents.
type Stats struct {
	TotalNodes  int
	Directories int
	Files       int
	Symlinks    int
	TotalSize   int64
}

// Stats computes aggregate counts over every node in the arena.
func (t *Tree) Stats() Stats {
	var s Stats
	for _, n := range t.nodes {
		switch n.Kind {
		case KindDirectory:
			s.Directories++
		case KindFile:
			s.Files++
			s.TotalSize += n.Size
		case KindSymlink:
			s.Symlinks++
		}
	}
	s.TotalNodes = len(t.nodes)
	return s
}
