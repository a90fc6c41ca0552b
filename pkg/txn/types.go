package txn

import "github.com/conarylabs/conary/pkg/vfs"

// PackageInfo identifies the package a transaction is installing, upgrading,
// or removing.
type PackageInfo struct {
	Name    string
	Version string
	Release string
	Arch    string
}

// ScriptletSpec is one install/remove hook supplied with a package, carried
// through the transaction until its phase runs.
type ScriptletSpec struct {
	Phase       string // pre-install, post-install, pre-remove, post-remove, pre-upgrade, post-upgrade
	Interpreter string
	Content     string
	Flags       string
}

// Operations is the input to Transaction.Plan: the files a package brings
// in, and (for an upgrade or removal) the files the previous version owned.
type Operations struct {
	Package       PackageInfo
	FilesToAdd    []vfs.ExtractedFile
	FilesToRemove []vfs.FileToRemove
	IsUpgrade     bool
	HasOldPackage bool
	OldPackage    PackageInfo
	Scriptlets    []ScriptletSpec
}

// FsApplyResult tallies what ApplyFilesystem actually did.
type FsApplyResult struct {
	FilesAdded    int
	FilesReplaced int
	FilesRemoved  int
	DirsCreated   int
	DirsRemoved   int
}

// TotalOperations sums every counter, used for reporting and tests.
func (r FsApplyResult) TotalOperations() int {
	return r.FilesAdded + r.FilesReplaced + r.FilesRemoved + r.DirsCreated + r.DirsRemoved
}

// Result is what a fully-finished transaction returns.
type Result struct {
	TxUUID      string
	ChangesetID int64
	DurationMS  int64
	FsResult    FsApplyResult
}
