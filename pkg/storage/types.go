package storage

// Trove is the core installable unit: a package, a component, or a
// collection (a named group of other troves).
type Trove struct {
	ID                     int64
	Name                   string
	Version                string
	Type                   string
	Architecture           string
	Description            string
	InstalledAt            string
	InstalledByChangesetID int64
	InstallSource          string
	InstallReason          string
	SelectionReason        string
	FlavorSpec             string
	Pinned                 bool
	LabelID                int64
}

// File tracks one installed file, content-hashed and tied to its owning
// trove (and, once split, its component).
type File struct {
	ID          int64
	Path        string
	SHA256Hash  string
	Size        int64
	Permissions uint32
	Owner       string
	GroupName   string
	TroveID     int64
	ComponentID int64
	InstalledAt string
}

// Flavor is one key/value build-time variation recorded against a trove
// (architecture, feature flag, toolchain, ...).
type Flavor struct {
	ID      int64
	TroveID int64
	Key     string
	Value   string
}

// Dependency records that a trove requires some capability, optionally
// constrained to a version range. Kind distinguishes typed dependency
// classes (package, soname, python, perl, ruby, java, pkgconfig, cmake,
// binary, file, interpreter, abi, kmod) from the plain "package" default.
type Dependency struct {
	ID                int64
	TroveID           int64
	DependsOnName     string
	DependsOnVersion  string
	DependencyType    string
	VersionConstraint string
	Kind              string
}

// Provide records a capability a trove offers: its own name, a virtual
// provide like "perl(Cwd)", a soname, or a file path.
type Provide struct {
	ID         int64
	TroveID    int64
	Capability string
	Version    string
	Kind       string
}

// Scriptlet is a package install/remove hook (pre-install, post-install,
// pre-remove, post-remove, pre-upgrade, post-upgrade).
type Scriptlet struct {
	ID            int64
	TroveID       int64
	Phase         string
	Interpreter   string
	Content       string
	Flags         string
	PackageFormat string
}

// Component is an independently installable unit split out of a package
// (":runtime", ":lib", ":devel", ":doc", ":config").
type Component struct {
	ID            int64
	ParentTroveID int64
	Name          string
	Description   string
	InstalledAt   string
	IsInstalled   bool
}

// Changeset is one atomic transactional operation over the trove set.
type Changeset struct {
	ID                    int64
	Description           string
	Status                string
	CreatedAt             string
	AppliedAt             string
	RolledBackAt          string
	ReversedByChangesetID int64
	Metadata              string
	// TxUUID is the transaction engine's journal UUID that produced this
	// changeset, letting recovery look up "did this transaction's DB
	// commit land" by UUID alone.
	TxUUID string
}

// Label identifies a trove's provenance as repository@namespace:tag.
type Label struct {
	ID            int64
	Repository    string
	Namespace     string
	Tag           string
	Description   string
	ParentLabelID int64
	CreatedAt     string
}

// LabelPathEntry places a label in the resolver's ordered search path;
// lower Priority is searched first.
type LabelPathEntry struct {
	ID       int64
	LabelID  int64
	Priority int32
	Enabled  bool
}

// SystemState is a numbered, complete snapshot of installed troves, used
// for state-based rollback instead of per-changeset reversal.
type SystemState struct {
	ID           int64
	StateNumber  int64
	Summary      string
	Description  string
	CreatedAt    string
	ChangesetID  int64
	IsActive     bool
	PackageCount int64
}

// StateMember is one trove captured in a SystemState snapshot.
type StateMember struct {
	ID              int64
	StateID         int64
	TroveName       string
	TroveVersion    string
	Architecture    string
	InstallReason   string
	SelectionReason string
}

// Trigger is a path-pattern handler that runs after matching files are
// installed or removed (ldconfig, systemd-tmpfiles, and so on).
type Trigger struct {
	ID          int64
	Name        string
	Description string
	Pattern     string
	Handler     string
	Priority    int32
	Enabled     bool
	Builtin     bool
	CreatedAt   string
}

// ChangesetTrigger records that a trigger matched files in a changeset and
// tracks its execution up to once per changeset, regardless of how many of
// its matched files were touched.
type ChangesetTrigger struct {
	ID           int64
	ChangesetID  int64
	TriggerID    int64
	Status       string // pending, running, completed, failed
	MatchedFiles int64
	StartedAt    string
	CompletedAt  string
	Output       string
}
