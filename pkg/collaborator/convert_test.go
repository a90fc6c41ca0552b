package collaborator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPackageInfo(t *testing.T) {
	pkg := NewFake(Metadata{Name: "curl", Version: "8.9.1", Release: "2", Architecture: "x86_64"})
	info := ToPackageInfo(pkg)
	assert.Equal(t, "curl", info.Name)
	assert.Equal(t, "8.9.1", info.Version)
	assert.Equal(t, "2", info.Release)
	assert.Equal(t, "x86_64", info.Arch)
}

func TestToScriptletSpecsDropsRPMBookkeepingPhases(t *testing.T) {
	scriptlets := []Scriptlet{
		{Phase: PhasePostInstall, Interpreter: "/bin/sh", Content: "ldconfig"},
		{Phase: PhaseTrigger, Interpreter: "/bin/sh", Content: "rebuild-cache"},
		{Phase: PhasePreTransaction, Interpreter: "/bin/sh", Content: "noop"},
	}

	specs := ToScriptletSpecs(scriptlets)
	require.Len(t, specs, 1)
	assert.Equal(t, "post-install", specs[0].Phase)
	assert.Equal(t, "ldconfig", specs[0].Content)
}

func TestToOperationsFreshInstall(t *testing.T) {
	pkg := NewFake(Metadata{Name: "curl", Version: "8.9.1", Architecture: "x86_64"}).
		WithFile("/usr/bin/curl", []byte("binary"), 0755).
		WithScriptlet(Scriptlet{Phase: PhasePostInstall, Interpreter: "/bin/sh", Content: "ldconfig"})

	ops, err := ToOperations(pkg)
	require.NoError(t, err)
	assert.Equal(t, "curl", ops.Package.Name)
	require.Len(t, ops.FilesToAdd, 1)
	assert.Equal(t, "/usr/bin/curl", ops.FilesToAdd[0].Path)
	assert.False(t, ops.IsUpgrade)
	assert.False(t, ops.HasOldPackage)
	require.Len(t, ops.Scriptlets, 1)
}

func TestToOperationsPropagatesExtractError(t *testing.T) {
	pkg := NewFake(Metadata{Name: "curl"}).WithExtractError(errors.New("payload truncated"))

	_, err := ToOperations(pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload truncated")
}

func TestToUpgradeOperationsRemovesDroppedFiles(t *testing.T) {
	oldPkg := NewFake(Metadata{Name: "curl", Version: "8.8.0"}).
		WithFile("/usr/bin/curl", []byte("old-binary"), 0755).
		WithFile("/usr/share/doc/curl/old-notes", []byte("stale"), 0644)

	newPkg := NewFake(Metadata{Name: "curl", Version: "8.9.1"}).
		WithFile("/usr/bin/curl", []byte("new-binary"), 0755)

	ops, err := ToUpgradeOperations(oldPkg, newPkg)
	require.NoError(t, err)
	assert.True(t, ops.IsUpgrade)
	assert.True(t, ops.HasOldPackage)
	assert.Equal(t, "8.8.0", ops.OldPackage.Version)
	require.Len(t, ops.FilesToAdd, 1)
	require.Len(t, ops.FilesToRemove, 1)
	assert.Equal(t, "/usr/share/doc/curl/old-notes", ops.FilesToRemove[0].Path)
}

func TestToExtractedFilesCarriesSymlinks(t *testing.T) {
	pkg := NewFake(Metadata{Name: "curl"}).WithSymlink("/usr/bin/curl-alias", "/usr/bin/curl", 0777)

	extracted, err := pkg.ExtractFiles()
	require.NoError(t, err)
	files := ToExtractedFiles(extracted)
	require.Len(t, files, 1)
	assert.True(t, files[0].IsSymlink)
	assert.Equal(t, "/usr/bin/curl", files[0].SymlinkTarget)
}
