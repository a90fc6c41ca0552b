package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTroveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tr := &Trove{
		Name:          "bash",
		Version:       "5.2.21-1",
		Type:          "package",
		Architecture:  "x86_64",
		Description:   "GNU Bourne-Again shell",
		InstallReason: "explicit",
	}
	id, err := store.CreateTrove(ctx, tr)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.GetTrove(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "bash", got.Name)
	require.Equal(t, "5.2.21-1", got.Version)
	require.Equal(t, "x86_64", got.Architecture)
	require.False(t, got.Pinned)

	byName, err := store.GetTroveByName(ctx, "bash", "5.2.21-1", "x86_64")
	require.NoError(t, err)
	require.Equal(t, got.ID, byName.ID)

	got.Pinned = true
	require.NoError(t, store.UpdateTrove(ctx, got))

	reloaded, err := store.GetTrove(ctx, id)
	require.NoError(t, err)
	require.True(t, reloaded.Pinned)

	require.NoError(t, store.DeleteTrove(ctx, id))
	_, err = store.GetTrove(ctx, id)
	require.Error(t, err)
}

func TestListTrovesByName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, v := range []string{"1.0.0-1", "1.0.1-1"} {
		_, err := store.CreateTrove(ctx, &Trove{Name: "zsh", Version: v, Type: "package", InstallReason: "explicit"})
		require.NoError(t, err)
	}
	_, err := store.CreateTrove(ctx, &Trove{Name: "bash", Version: "5.0-1", Type: "package", InstallReason: "explicit"})
	require.NoError(t, err)

	versions, err := store.ListTrovesByName(ctx, "zsh")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	all, err := store.ListTroves(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	troveID, err := store.CreateTrove(ctx, &Trove{Name: "bash", Version: "5.2-1", Type: "package", InstallReason: "explicit"})
	require.NoError(t, err)

	_, err = store.CreateFile(ctx, &File{
		Path:        "/bin/bash",
		SHA256Hash:  "abc123",
		Size:        123456,
		Permissions: 0o755,
		Owner:       "root",
		GroupName:   "root",
		TroveID:     troveID,
	})
	require.NoError(t, err)

	f, err := store.GetFileByPath(ctx, "/bin/bash")
	require.NoError(t, err)
	require.Equal(t, troveID, f.TroveID)
	require.EqualValues(t, 0o755, f.Permissions)

	files, err := store.ListFilesByTrove(ctx, troveID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, store.DeleteFilesByTrove(ctx, troveID))
	files, err = store.ListFilesByTrove(ctx, troveID)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestDependencyAndProvideRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	appID, err := store.CreateTrove(ctx, &Trove{Name: "app", Version: "1.0-1", Type: "package", InstallReason: "explicit"})
	require.NoError(t, err)
	libID, err := store.CreateTrove(ctx, &Trove{Name: "libfoo", Version: "2.0-1", Type: "package", InstallReason: "dep"})
	require.NoError(t, err)

	_, err = store.CreateDependency(ctx, &Dependency{
		TroveID:           appID,
		DependsOnName:     "libfoo",
		DependsOnVersion:  "2.0-1",
		DependencyType:    "runtime",
		VersionConstraint: ">= 1.0",
	})
	require.NoError(t, err)

	_, err = store.CreateProvide(ctx, &Provide{TroveID: libID, Capability: "libfoo.so.2", Kind: "soname"})
	require.NoError(t, err)

	deps, err := store.ListDependenciesByTrove(ctx, appID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, "libfoo", deps[0].DependsOnName)
	require.Equal(t, "package", deps[0].Kind)

	dependents, err := store.ListDependents(ctx, "libfoo")
	require.NoError(t, err)
	require.Len(t, dependents, 1)

	providers, err := store.FindTrovesProviding(ctx, "libfoo.so.2")
	require.NoError(t, err)
	require.Len(t, providers, 1)
	require.Equal(t, libID, providers[0].ID)
}

func TestLabelAndLabelPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateLabel(ctx, &Label{Repository: "conary.example.com", Namespace: "rpl", Tag: "2"})
	require.NoError(t, err)

	l, err := store.FindLabel(ctx, "conary.example.com", "rpl", "2")
	require.NoError(t, err)
	require.Equal(t, id, l.ID)

	require.NoError(t, store.UpsertLabelPathEntry(ctx, &LabelPathEntry{LabelID: id, Priority: 10, Enabled: true}))
	require.NoError(t, store.UpsertLabelPathEntry(ctx, &LabelPathEntry{LabelID: id, Priority: 5, Enabled: true}))

	path, err := store.ListLabelPath(ctx)
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.EqualValues(t, 5, path[0].Priority)
}

func TestChangesetLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateChangeset(ctx, &Changeset{Description: "install bash"})
	require.NoError(t, err)

	cs, err := store.GetChangeset(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "pending", cs.Status)

	require.NoError(t, store.UpdateChangesetStatus(ctx, id, "applied"))
	cs, err = store.GetChangeset(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "applied", cs.Status)
	require.NotEmpty(t, cs.AppliedAt)

	all, err := store.ListChangesets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSystemStateSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSystemState(ctx, &SystemState{StateNumber: 1, Summary: "install bash", IsActive: true, PackageCount: 1})
	require.NoError(t, err)

	require.NoError(t, store.AddStateMember(ctx, &StateMember{
		StateID:       id,
		TroveName:     "bash",
		TroveVersion:  "5.2-1",
		InstallReason: "explicit",
	}))

	active, err := store.GetActiveSystemState(ctx)
	require.NoError(t, err)
	require.Equal(t, id, active.ID)

	members, err := store.ListStateMembers(ctx, id)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "bash", members[0].TroveName)
}

func TestBuiltinTriggersSeeded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	triggers, err := store.ListEnabledTriggers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, triggers, "migration v17 seeds built-in triggers")

	foundLdconfig := false
	for _, tr := range triggers {
		if tr.Name == "ldconfig" {
			foundLdconfig = true
		}
	}
	require.True(t, foundLdconfig, "expected the built-in ldconfig trigger")
}
