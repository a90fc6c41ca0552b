package collaborator

import (
	"fmt"

	"github.com/conarylabs/conary/pkg/txn"
	"github.com/conarylabs/conary/pkg/vfs"
)

// ToPackageInfo converts a Package's metadata into the shape pkg/txn plans
// transactions around.
func ToPackageInfo(pkg Package) txn.PackageInfo {
	m := pkg.Metadata()
	return txn.PackageInfo{
		Name:    m.Name,
		Version: m.Version,
		Release: m.Release,
		Arch:    m.Architecture,
	}
}

// ToScriptletSpecs converts a Package's scriptlets into pkg/txn's
// ScriptletSpec, dropping phases the engine never runs (pre-transaction,
// post-transaction, trigger are RPM-only bookkeeping hooks with no Conary
// equivalent; trigger matching is handled separately by pkg/txn's
// TriggerExecutor against installed trove metadata, not package-carried
// scriptlets).
func ToScriptletSpecs(scriptlets []Scriptlet) []txn.ScriptletSpec {
	specs := make([]txn.ScriptletSpec, 0, len(scriptlets))
	for _, s := range scriptlets {
		switch s.Phase {
		case PhasePreTransaction, PhasePostTransaction, PhaseTrigger:
			continue
		}
		specs = append(specs, txn.ScriptletSpec{
			Phase:       string(s.Phase),
			Interpreter: s.Interpreter,
			Content:     s.Content,
			Flags:       s.Flags,
		})
	}
	return specs
}

// ToExtractedFiles converts extracted package files into vfs.ExtractedFile,
// the planner's input shape.
func ToExtractedFiles(files []ExtractedFile) []vfs.ExtractedFile {
	out := make([]vfs.ExtractedFile, 0, len(files))
	for _, f := range files {
		out = append(out, vfs.ExtractedFile{
			Path:          f.Path,
			Content:       f.Content,
			Mode:          f.Mode,
			IsSymlink:     f.IsSymlink,
			SymlinkTarget: f.SymlinkTarget,
		})
	}
	return out
}

// ToFilesToRemove converts an old package's file index into the set a
// removal or upgrade drops, skipping any path still owned by newFiles so an
// upgrade never deletes a file its new version re-ships.
func ToFilesToRemove(oldFiles []File, newFiles []ExtractedFile) []vfs.FileToRemove {
	keep := make(map[string]bool, len(newFiles))
	for _, f := range newFiles {
		keep[f.Path] = true
	}
	out := make([]vfs.FileToRemove, 0, len(oldFiles))
	for _, f := range oldFiles {
		if keep[f.Path] {
			continue
		}
		out = append(out, vfs.FileToRemove{
			Path: f.Path,
			Hash: f.SHA256,
			Size: f.Size,
			Mode: f.Mode,
		})
	}
	return out
}

// ToOperations builds a txn.Operations for installing pkg fresh, with no
// prior version on the system.
func ToOperations(pkg Package) (txn.Operations, error) {
	extracted, err := pkg.ExtractFiles()
	if err != nil {
		return txn.Operations{}, fmt.Errorf("extract %s: %w", pkg.Metadata().Name, err)
	}
	return txn.Operations{
		Package:    ToPackageInfo(pkg),
		FilesToAdd: ToExtractedFiles(extracted),
		Scriptlets: ToScriptletSpecs(pkg.Scriptlets()),
	}, nil
}

// ToUpgradeOperations builds a txn.Operations for upgrading from oldPkg to
// newPkg: newPkg's files are added, and any file oldPkg owned that newPkg no
// longer ships is queued for removal.
func ToUpgradeOperations(oldPkg, newPkg Package) (txn.Operations, error) {
	extracted, err := newPkg.ExtractFiles()
	if err != nil {
		return txn.Operations{}, fmt.Errorf("extract %s: %w", newPkg.Metadata().Name, err)
	}
	return txn.Operations{
		Package:       ToPackageInfo(newPkg),
		FilesToAdd:    ToExtractedFiles(extracted),
		FilesToRemove: ToFilesToRemove(oldPkg.Files(), extracted),
		IsUpgrade:     true,
		HasOldPackage: true,
		OldPackage:    ToPackageInfo(oldPkg),
		Scriptlets:    ToScriptletSpecs(newPkg.Scriptlets()),
	}, nil
}
