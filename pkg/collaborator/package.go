// Package collaborator declares the interface an external package-format
// parser implements to hand a package over to the transaction engine.
// Conary itself never speaks RPM, DEB, Arch, or CCS payload formats: a
// collaborator does that parsing out of process (or in a separate package
// this module doesn't own) and produces the plain shapes declared here,
// which convert.go turns into pkg/txn's Operations.
package collaborator

// File is one file a package format's index lists, before content has been
// extracted. Callers that only need the manifest (dependency solving,
// conflict checks against already-installed files) use this instead of
// paying to extract every payload.
type File struct {
	Path   string
	Size   int64
	Mode   uint32
	SHA256 string // empty if the format doesn't carry a digest in its index
}

// DependencyKind classifies one dependency edge.
type DependencyKind int

const (
	DependencyRuntime DependencyKind = iota
	DependencyBuild
	DependencyOptional
)

func (k DependencyKind) String() string {
	switch k {
	case DependencyRuntime:
		return "runtime"
	case DependencyBuild:
		return "build"
	case DependencyOptional:
		return "optional"
	default:
		return "unknown"
	}
}

// Dependency is one requirement a package places on another package or
// capability, as declared by its format's metadata.
type Dependency struct {
	Name        string
	Constraint  string // e.g. ">= 1.2", empty if unconstrained
	Kind        DependencyKind
	Description string
}

// ScriptletPhase is when a scriptlet runs in a transaction's lifecycle.
// Values line up with txn.ScriptletSpec.Phase's string vocabulary.
type ScriptletPhase string

const (
	PhasePreInstall      ScriptletPhase = "pre-install"
	PhasePostInstall     ScriptletPhase = "post-install"
	PhasePreRemove       ScriptletPhase = "pre-remove"
	PhasePostRemove      ScriptletPhase = "post-remove"
	PhasePreUpgrade      ScriptletPhase = "pre-upgrade"
	PhasePostUpgrade     ScriptletPhase = "post-upgrade"
	PhasePreTransaction  ScriptletPhase = "pre-transaction"
	PhasePostTransaction ScriptletPhase = "post-transaction"
	PhaseTrigger         ScriptletPhase = "trigger"
)

// Scriptlet is one install/remove hook a package carries.
type Scriptlet struct {
	Phase       ScriptletPhase
	Interpreter string
	Content     string
	Flags       string
}

// ConfigFile marks one path as a configuration file, with the format's
// replace-on-upgrade semantics (RPM's %config(noreplace), DEB's conffiles,
// Arch's backup array all reduce to this).
type ConfigFile struct {
	Path      string
	NoReplace bool // preserve the installed copy on upgrade instead of overwriting it
	Ghost     bool // tracked but not shipped in the payload
}

// ExtractedFile is one file with its content materialized, ready to become
// a vfs.ExtractedFile.
type ExtractedFile struct {
	Path          string
	Content       []byte
	Mode          uint32
	IsSymlink     bool
	SymlinkTarget string
	SHA256        string
}

// Metadata is the identifying and descriptive information a format's index
// carries about a package, independent of its payload.
type Metadata struct {
	Name         string
	Version      string
	Release      string
	Architecture string
	Flavor       string
	Description  string
}

// Package is the interface a format-specific parser implements. The core
// never inspects a package's on-disk layout directly; it only calls through
// this interface, so adding RPM, DEB, Arch, or CCS support never touches
// pkg/txn, pkg/vfs, or pkg/resolver.
type Package interface {
	// Metadata returns the package's identifying information.
	Metadata() Metadata

	// Files lists the package's files without extracting their content.
	Files() []File

	// Dependencies lists the package's declared requirements.
	Dependencies() []Dependency

	// ExtractFiles materializes every file's content. Called once, right
	// before a transaction stages the package, not during Files().
	ExtractFiles() ([]ExtractedFile, error)

	// Scriptlets returns the package's install/remove hooks. A format with
	// no scriptlet support returns nil.
	Scriptlets() []Scriptlet

	// ConfigFiles returns the package's declared configuration files. A
	// format that detects config files by path convention instead of an
	// explicit list returns nil here; the caller falls back to path-based
	// detection.
	ConfigFiles() []ConfigFile
}
