package vfs

import (
	"path"
	"sort"
	"strings"
)

// ExtractedFile is one file a package-format parser yields: its intended
// install path, content or symlink target, and mode. The core never reads
// the original package's binary layout, only this shape.
type ExtractedFile struct {
	Path          string
	Content       []byte
	Mode          uint32
	IsSymlink     bool
	SymlinkTarget string
}

// FileToRemove describes a file an upgrade's old version owns that is not
// present in the new version's file list.
type FileToRemove struct {
	Path string
	Hash string
	Size int64
	Mode uint32
}

// OperationType enumerates the filesystem mutations a plan can contain.
type OperationType int

const (
	OpMkdir OperationType = iota
	OpAddFile
	OpReplaceFile
	OpRemoveFile
	OpAddSymlink
	OpReplaceSymlink
	OpRemoveSymlink
	OpRmdir
)

// Operation is one planned filesystem mutation.
type Operation struct {
	Path          string
	Type          OperationType
	NewDigest     string
	NewMode       uint32
	HasNewMode    bool
	SymlinkTarget string
}

// ConflictKind discriminates the reasons planning can refuse to proceed.
type ConflictKind int

const (
	ConflictFileOwnedByOther ConflictKind = iota
	ConflictUntrackedFileExists
	ConflictDirectoryBlocksFile
	ConflictFileBlocksDirectory
	ConflictParentMissing
)

// PlanConflict is one obstacle found while planning; a plan with any
// conflict must not be executed.
type PlanConflict struct {
	Kind   ConflictKind
	Path   string
	Owner  string
	Parent string
}

// BackupInfo describes an existing file that must be backed up before a
// replace or remove operation touches it.
type BackupInfo struct {
	Path        string
	IsSymlink   bool
	CurrentHash string
	Mode        uint32
	Size        int64
}

// StageInfo describes content that must be staged from the CAS (or written
// fresh into it) before the filesystem is mutated.
type StageInfo struct {
	Path          string
	Digest        string
	Mode          uint32
	IsSymlink     bool
	SymlinkTarget string
}

// Plan is the complete output of planning a transaction: the tree
// representing the intended final state, the ordered operation list, and
// any conflicts found along the way.
type Plan struct {
	Tree          *Tree
	Operations    []Operation
	DirsToCreate  []string
	FilesToBackup []BackupInfo
	FilesToStage  []StageInfo
	DirsToRemove  []string
	Conflicts     []PlanConflict
}

// HasConflicts reports whether the plan found any obstacle.
func (p *Plan) HasConflicts() bool { return len(p.Conflicts) > 0 }

// Summary tallies the plan's operations by kind.
type Summary struct {
	TotalOperations int
	FilesToAdd      int
	FilesToReplace  int
	FilesToRemove   int
	DirsToCreate    int
	DirsToRemove    int
	Conflicts       int
}

// Summary computes a Summary over the plan's operations.
func (p *Plan) Summary() Summary {
	s := Summary{
		TotalOperations: len(p.Operations),
		DirsToCreate:    len(p.DirsToCreate),
		DirsToRemove:    len(p.DirsToRemove),
		Conflicts:       len(p.Conflicts),
	}
	for _, op := range p.Operations {
		switch op.Type {
		case OpAddFile, OpAddSymlink, OpMkdir:
			s.FilesToAdd++
		case OpReplaceFile, OpReplaceSymlink:
			s.FilesToReplace++
		case OpRemoveFile, OpRemoveSymlink, OpRmdir:
			s.FilesToRemove++
		}
	}
	return s
}

// ExistingFile is what the planner needs to know about a path already
// recorded in the metadata store: which trove owns it and its current
// content/mode, so a replace can be distinguished from a conflict.
type ExistingFile struct {
	TroveName string
	Hash      string
	Mode      uint32
	Size      int64
}

// FileProbe answers what planning needs about a candidate path (whether it
// is on disk, and which trove the metadata store says owns it) and hashes
// content the way the CAS store does, without the planner depending on
// pkg/storage or os directly.
type FileProbe interface {
	// Exists reports whether something is present at p on disk (including
	// symlinks, via lstat semantics).
	Exists(p string) bool
	// Tracked returns the owning trove's record for p, if the metadata
	// store tracks it.
	Tracked(p string) (ExistingFile, bool)
	// Digest hashes content the way the CAS store would, so planned
	// operations can be compared against what is already on disk.
	Digest(content []byte) string
	// SymlinkDigest hashes a symlink target the way the CAS store would.
	SymlinkDigest(target string) string
}

// Planner builds Plans against a FileProbe, tracking a Tree across
// potentially several calls so multi-package transactions see a
// consistent intended final state.
type Planner struct {
	probe FileProbe
	tree  *Tree
}

// NewPlanner creates a Planner with a fresh, empty tree.
func NewPlanner(probe FileProbe) *Planner {
	return &Planner{probe: probe, tree: New()}
}

// Tree returns the planner's accumulated tree.
func (pl *Planner) Tree() *Tree { return pl.tree }

// PlanInstall plans installing (or upgrading) packageName: newFiles is the
// complete file list of the version being installed; oldFiles is the
// complete file list of the version being replaced (empty for a fresh
// install). See spec.md §4.2 for the algorithm this implements.
func (pl *Planner) PlanInstall(newFiles []ExtractedFile, oldFiles []FileToRemove, packageName string, isUpgrade bool) *Plan {
	plan := &Plan{Tree: pl.tree}

	oldByPath := make(map[string]FileToRemove, len(oldFiles))
	for _, f := range oldFiles {
		oldByPath[f.Path] = f
	}

	for _, file := range newFiles {
		if parent := path.Dir(normalize(file.Path)); parent != "/" {
			pl.ensureDirectoryPath(parent, plan)
		}

		digest := pl.probe.Digest(file.Content)
		if file.IsSymlink {
			digest = pl.probe.SymlinkDigest(file.SymlinkTarget)
		}

		if pl.probe.Exists(file.Path) {
			if existing, tracked := pl.probe.Tracked(file.Path); tracked {
				if existing.TroveName != packageName {
					plan.Conflicts = append(plan.Conflicts, PlanConflict{
						Kind: ConflictFileOwnedByOther, Path: file.Path, Owner: existing.TroveName,
					})
					continue
				}
				plan.FilesToBackup = append(plan.FilesToBackup, BackupInfo{
					Path: file.Path, IsSymlink: file.IsSymlink,
					CurrentHash: existing.Hash, Mode: existing.Mode, Size: existing.Size,
				})
				plan.Operations = append(plan.Operations, pl.replaceOp(file, digest))
			} else if old, ok := oldByPath[file.Path]; isUpgrade && ok {
				plan.FilesToBackup = append(plan.FilesToBackup, BackupInfo{
					Path: file.Path, IsSymlink: file.IsSymlink,
					CurrentHash: old.Hash, Mode: old.Mode, Size: old.Size,
				})
				plan.Operations = append(plan.Operations, pl.replaceOp(file, digest))
			} else {
				plan.Conflicts = append(plan.Conflicts, PlanConflict{Kind: ConflictUntrackedFileExists, Path: file.Path})
				continue
			}
		} else {
			plan.Operations = append(plan.Operations, pl.addOp(file, digest))
		}

		plan.FilesToStage = append(plan.FilesToStage, StageInfo{
			Path: file.Path, Digest: digest, Mode: file.Mode,
			IsSymlink: file.IsSymlink, SymlinkTarget: file.SymlinkTarget,
		})

		if parent := path.Dir(normalize(file.Path)); parent != "/" {
			_, _ = pl.tree.MkdirAll(parent)
		}
		if file.IsSymlink {
			_, _ = pl.tree.AddSymlink(file.Path, file.SymlinkTarget)
		} else {
			_, _ = pl.tree.AddFile(file.Path, digest, int64(len(file.Content)), file.Mode)
		}
	}

	newPaths := make(map[string]bool, len(newFiles))
	for _, f := range newFiles {
		newPaths[f.Path] = true
	}
	for _, old := range oldFiles {
		if newPaths[old.Path] {
			continue
		}
		plan.FilesToBackup = append(plan.FilesToBackup, BackupInfo{
			Path: old.Path, CurrentHash: old.Hash, Mode: old.Mode, Size: old.Size,
		})
		plan.Operations = append(plan.Operations, Operation{Path: old.Path, Type: OpRemoveFile})
	}

	plan.DirsToRemove = computeDirCleanup(oldFiles, newPaths)
	return plan
}

func (pl *Planner) addOp(file ExtractedFile, digest string) Operation {
	op := Operation{Path: file.Path, NewDigest: digest, NewMode: file.Mode, HasNewMode: true}
	if file.IsSymlink {
		op.Type = OpAddSymlink
		op.SymlinkTarget = file.SymlinkTarget
	} else {
		op.Type = OpAddFile
	}
	return op
}

func (pl *Planner) replaceOp(file ExtractedFile, digest string) Operation {
	op := pl.addOp(file, digest)
	if file.IsSymlink {
		op.Type = OpReplaceSymlink
	} else {
		op.Type = OpReplaceFile
	}
	return op
}

// ensureDirectoryPath schedules mkdir operations, parent-first, for any
// ancestor of p not already scheduled or present in the tree.
func (pl *Planner) ensureDirectoryPath(p string, plan *Plan) {
	var toCreate []string
	for cur := p; cur != "/" && cur != "."; {
		if !pl.tree.Exists(cur) && !contains(plan.DirsToCreate, cur) {
			toCreate = append(toCreate, cur)
		}
		cur = path.Dir(cur)
	}
	for i, j := 0, len(toCreate)-1; i < j; i, j = i+1, j-1 {
		toCreate[i], toCreate[j] = toCreate[j], toCreate[i]
	}
	for _, dir := range toCreate {
		if contains(plan.DirsToCreate, dir) {
			continue
		}
		plan.DirsToCreate = append(plan.DirsToCreate, dir)
		plan.Operations = append(plan.Operations, Operation{Path: dir, Type: OpMkdir, NewMode: 0o755, HasNewMode: true})
		_, _ = pl.tree.MkdirAll(dir)
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// computeDirCleanup finds parent directories of removed files that might
// now be empty, ordered deepest-first so children are removed before
// parents.
func computeDirCleanup(oldFiles []FileToRemove, newPaths map[string]bool) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, old := range oldFiles {
		if newPaths[old.Path] {
			continue
		}
		parent := path.Dir(normalize(old.Path))
		if parent == "/" || seen[parent] {
			continue
		}
		seen[parent] = true
		dirs = append(dirs, parent)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	return dirs
}
