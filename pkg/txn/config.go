// Package txn implements Conary's transaction engine: the crash-safe state
// machine that takes a package install/upgrade/remove from a computed plan
// through content staging, filesystem apply, database commit, and
// post-install scripts and triggers, with a barrier-fenced journal that lets
// an interrupted run be recovered deterministically on the next start.
package txn

import (
	"path/filepath"

	"github.com/conarylabs/conary/pkg/hash"
)

// Config configures a transaction Engine.
type Config struct {
	// Root is the filesystem root operations are applied under (usually "/").
	Root string
	// DBPath is the path to the metadata database.
	DBPath string
	// TxnDir holds per-transaction backup/stage working directories and the
	// advisory lock file. Defaults to <db-dir>/txn.
	TxnDir string
	// JournalDir holds one journal file per in-flight or archived
	// transaction. Defaults to <db-dir>/journal.
	JournalDir string
	// HashAlgorithm is the digest algorithm used for CAS objects staged by
	// this engine.
	HashAlgorithm hash.Algorithm
	// PreserveOldContent defaults to true, but no code in the engine reads
	// it: superseded CAS content is not tracked for rollback and stays in
	// the store only until a garbage-collect sweep removes it.
	PreserveOldContent bool
}

// NewConfig returns a Config with the directory layout and algorithm
// defaults derived from dbPath, mirroring TransactionConfig::new.
func NewConfig(root, dbPath string) Config {
	dbDir := filepath.Dir(dbPath)
	return Config{
		Root:               root,
		DBPath:             dbPath,
		TxnDir:             filepath.Join(dbDir, "txn"),
		JournalDir:         filepath.Join(dbDir, "journal"),
		HashAlgorithm:      hash.Sha256,
		PreserveOldContent: true,
	}
}
