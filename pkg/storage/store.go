// Package storage is Conary's metadata store: troves, files, capabilities,
// dependencies, labels, changesets, system states, triggers, and scriptlets,
// held in a versioned SQL schema. Callers only ever see the typed methods
// on Store; no raw SQL crosses the package boundary.
package storage

import "context"

// Store is Conary's metadata persistence interface. SQLiteStore is the
// only implementation; the interface exists so pkg/txn, pkg/resolver, and
// the daemon can be tested against a fake.
type Store interface {
	// WithTx runs fn against a single atomic transaction; every call fn
	// makes through the Store it is handed commits together or not at all.
	WithTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error

	// Troves
	CreateTrove(ctx context.Context, t *Trove) (int64, error)
	GetTrove(ctx context.Context, id int64) (*Trove, error)
	GetTroveByName(ctx context.Context, name, version, architecture string) (*Trove, error)
	ListTroves(ctx context.Context) ([]*Trove, error)
	ListTrovesByName(ctx context.Context, name string) ([]*Trove, error)
	UpdateTrove(ctx context.Context, t *Trove) error
	DeleteTrove(ctx context.Context, id int64) error

	// Files
	CreateFile(ctx context.Context, f *File) (int64, error)
	GetFileByPath(ctx context.Context, path string) (*File, error)
	ListFilesByTrove(ctx context.Context, troveID int64) ([]*File, error)
	DeleteFilesByTrove(ctx context.Context, troveID int64) error

	// Flavors
	CreateFlavor(ctx context.Context, f *Flavor) (int64, error)
	ListFlavorsByTrove(ctx context.Context, troveID int64) ([]*Flavor, error)

	// Dependencies
	CreateDependency(ctx context.Context, d *Dependency) (int64, error)
	ListDependenciesByTrove(ctx context.Context, troveID int64) ([]*Dependency, error)
	ListDependents(ctx context.Context, name string) ([]*Dependency, error)

	// Provides (capabilities)
	CreateProvide(ctx context.Context, p *Provide) (int64, error)
	ListProvidesByTrove(ctx context.Context, troveID int64) ([]*Provide, error)
	FindTrovesProviding(ctx context.Context, capability string) ([]*Trove, error)

	// Scriptlets
	CreateScriptlet(ctx context.Context, s *Scriptlet) (int64, error)
	GetScriptlet(ctx context.Context, troveID int64, phase string) (*Scriptlet, error)
	ListScriptletsByTrove(ctx context.Context, troveID int64) ([]*Scriptlet, error)

	// Components
	CreateComponent(ctx context.Context, c *Component) (int64, error)
	ListComponentsByTrove(ctx context.Context, troveID int64) ([]*Component, error)

	// Changesets
	CreateChangeset(ctx context.Context, c *Changeset) (int64, error)
	GetChangeset(ctx context.Context, id int64) (*Changeset, error)
	GetChangesetByTxUUID(ctx context.Context, txUUID string) (*Changeset, error)
	ListChangesets(ctx context.Context) ([]*Changeset, error)
	UpdateChangesetStatus(ctx context.Context, id int64, status string) error

	// Labels
	CreateLabel(ctx context.Context, l *Label) (int64, error)
	GetLabelByID(ctx context.Context, id int64) (*Label, error)
	FindLabel(ctx context.Context, repository, namespace, tag string) (*Label, error)
	ListLabels(ctx context.Context) ([]*Label, error)

	// Label path
	UpsertLabelPathEntry(ctx context.Context, e *LabelPathEntry) error
	ListLabelPath(ctx context.Context) ([]*LabelPathEntry, error)

	// System states
	CreateSystemState(ctx context.Context, s *SystemState) (int64, error)
	GetActiveSystemState(ctx context.Context) (*SystemState, error)
	ListSystemStates(ctx context.Context) ([]*SystemState, error)
	AddStateMember(ctx context.Context, m *StateMember) error
	ListStateMembers(ctx context.Context, stateID int64) ([]*StateMember, error)

	// Triggers
	ListTriggers(ctx context.Context) ([]*Trigger, error)
	ListEnabledTriggers(ctx context.Context) ([]*Trigger, error)
	GetTriggerDependencies(ctx context.Context, triggerID int64) ([]string, error)

	// Changeset triggers: which triggers fired for a changeset, and their
	// execution state.
	RecordChangesetTriggers(ctx context.Context, changesetID int64, triggers []*Trigger, matchedFiles map[int64]int) error
	PendingChangesetTriggers(ctx context.Context, changesetID int64) ([]*Trigger, error)
	MarkChangesetTriggerRunning(ctx context.Context, changesetID, triggerID int64) error
	MarkChangesetTriggerCompleted(ctx context.Context, changesetID, triggerID int64, output string) error
	MarkChangesetTriggerFailed(ctx context.Context, changesetID, triggerID int64, errMsg string) error

	// Close releases the underlying database handle.
	Close() error
}
