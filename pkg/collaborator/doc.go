/*
Package collaborator defines the boundary between Conary's core (pkg/txn,
pkg/vfs, pkg/resolver) and the package-format parsers that read actual RPM,
DEB, Arch, or CCS payloads.

Those parsers are external collaborators: this module declares the Package
interface they satisfy and the conversion helpers (ToPackageInfo,
ToOperations, ToUpgradeOperations) that turn a Package into the txn.Operations
a transaction plans around. No format parser ships in this module; Fake,
a fixture-backed Package, stands in for one in tests.

A real collaborator typically runs as a separate process or library: it
reads a package file, implements Package, and the CLI calls ToOperations (or
ToUpgradeOperations, when replacing an installed version) to build the
InstallSpec a job carries to conaryd.
*/
package collaborator
