package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/vfs"
)

const symlinkBackupPrefix = "SYMLINK:"

// RecoveryOutcome describes what recovery did with one leftover transaction
// found on disk.
type RecoveryOutcome struct {
	TxUUID    string
	LastState State
	Action    string // "rolled_back", "rolled_forward", "none"
	Err       error
}

// recoverAll scans the journal directory for transactions a previous
// process never finished, and resolves each one: anything that never
// reached the point of no return is rolled back, anything past it is left
// in place since the database already (or is about to) reflect it.
func recoverAll(ctx context.Context, e *Engine) ([]RecoveryOutcome, error) {
	logger := log.WithComponent("txn")

	entries, err := os.ReadDir(e.config.JournalDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal dir: %w", err)
	}

	var outcomes []RecoveryOutcome
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".journal") {
			continue
		}
		txUUID := strings.TrimSuffix(entry.Name(), ".journal")
		path := filepath.Join(e.config.JournalDir, entry.Name())

		outcome, err := recoverOne(ctx, e, txUUID, path)
		if err != nil {
			logger.Error().Str("tx_uuid", txUUID).Err(err).Msg("recovery failed")
			outcome.Err = err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func recoverOne(ctx context.Context, e *Engine, txUUID, path string) (RecoveryOutcome, error) {
	logger := log.WithTxnID(txUUID)

	journal, err := OpenJournal(path)
	if err != nil {
		return RecoveryOutcome{TxUUID: txUUID}, err
	}
	defer journal.Close()

	records, err := journal.ReadAll()
	if err != nil {
		return RecoveryOutcome{TxUUID: txUUID}, err
	}

	last := deriveLastState(records)
	outcome := RecoveryOutcome{TxUUID: txUUID, LastState: last}

	switch {
	case last.ShouldRollForward():
		logger.Info().Str("state", last.String()).Msg("leftover transaction already past the point of no return, leaving in place")
		outcome.Action = "rolled_forward"
		if err := journal.Archive(); err != nil {
			return outcome, err
		}
		_ = os.RemoveAll(e.TxnWorkDir(txUUID))

	case last.IsAmbiguous():
		// The crash landed between WriteDBCommitIntent and RecordDBCommit.
		// The journal alone can't say whether the metadata store's
		// transaction committed; ask the store directly by this
		// transaction's UUID, which the daemon's install path (recordInstall)
		// and remove path (runRemove) tag every changeset with before the
		// commit point.
		changeset, err := e.store.GetChangesetByTxUUID(ctx, txUUID)
		switch {
		case err == nil:
			logger.Info().Str("state", last.String()).Int64("changeset_id", changeset.ID).
				Msg("db commit landed before crash, rolling forward")
			outcome.Action = "rolled_forward"
			if err := journal.Archive(); err != nil {
				return outcome, err
			}
			_ = os.RemoveAll(e.TxnWorkDir(txUUID))

		case errors.Is(err, storage.ErrNotFound):
			logger.Info().Str("state", last.String()).Msg("db commit did not land before crash, rolling back")
			if err := rollbackTransaction(ctx, e, txUUID, records); err != nil {
				return outcome, err
			}
			outcome.Action = "rolled_back"
			if err := journal.Delete(); err != nil {
				return outcome, err
			}
			_ = os.RemoveAll(e.TxnWorkDir(txUUID))

		default:
			return outcome, fmt.Errorf("query changeset for recovery of %s: %w", txUUID, err)
		}

	case last.IsRecoverable():
		logger.Info().Str("state", last.String()).Msg("rolling back incomplete transaction")
		if err := rollbackTransaction(ctx, e, txUUID, records); err != nil {
			return outcome, err
		}
		outcome.Action = "rolled_back"
		if err := journal.Delete(); err != nil {
			return outcome, err
		}
		_ = os.RemoveAll(e.TxnWorkDir(txUUID))

	default:
		outcome.Action = "none"
	}

	return outcome, nil
}

// deriveLastState replays a journal's records to find the last durable
// state a transaction reached. If the last barrier is DbCommitIntent with
// no following DbApplied, the journal alone cannot say whether the DB
// transaction it guards committed before the crash; recoverOne resolves
// that by querying the metadata store for a changeset tagged with this
// transaction's UUID.
func deriveLastState(records []Record) State {
	state := StateNew
	for _, r := range records {
		switch r.Kind {
		case RecordBegin:
			state = StateNew
		case RecordPlan:
			state = StatePlanned
		case RecordPrepared:
			state = StatePrepared
		case RecordBackupsComplete:
			state = StateBackedUp
		case RecordStagingComplete:
			state = StateStaged
		case RecordFsApplied:
			state = StateFsApplied
		case RecordDbCommitIntent:
			state = StateDbCommitIntent
		case RecordDbApplied:
			state = StateDbApplied
		case RecordDone:
			state = StateDone
		}
	}
	return state
}

// rollbackTransaction undoes everything a transaction did to the live
// filesystem, using only what its journal recorded: files it backed up are
// restored, files it newly staged in are removed, directories it created
// are cleaned up if left empty. It never touches the database: either the
// transaction never reached RecordDbApplied, or it reached DbCommitIntent
// but the store lookup found no matching changeset, meaning the database
// transaction never committed either.
func rollbackTransaction(ctx context.Context, e *Engine, txUUID string, records []Record) error {
	logger := log.WithTxnID(txUUID)

	backups := make(map[string]Record) // path -> Backup record
	staged := make(map[string]Record)  // path -> Stage record
	var mkdirs []string

	for _, r := range records {
		switch r.Kind {
		case RecordBackup:
			backups[r.Path] = r
		case RecordStage:
			staged[r.Path] = r
		case RecordPlan:
			for _, op := range r.Operations {
				if op.Type == vfs.OpMkdir {
					mkdirs = append(mkdirs, op.Path)
				}
			}
		}
	}

	// Restore every file that was moved out of the way during backup.
	for path, rec := range backups {
		if err := checkCancelled(ctx, "rollback"); err != nil {
			return err
		}
		if err := restoreBackup(e.config.Root, rec); err != nil {
			logger.Warn().Str("path", path).Err(err).Msg("failed to restore backed-up file during rollback")
		}
	}

	// Remove anything that was newly staged in and had no prior version to
	// restore over it.
	for path := range staged {
		if _, hadBackup := backups[path]; hadBackup {
			continue
		}
		target, err := safeJoin(e.config.Root, path)
		if err != nil {
			continue
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			logger.Warn().Str("path", path).Err(err).Msg("failed to remove staged-in file during rollback")
		}
	}

	// Clean up directories this transaction created, deepest first, only if
	// they ended up empty.
	sortDeepestFirst(mkdirs)
	for _, dir := range mkdirs {
		target, err := safeJoin(e.config.Root, dir)
		if err != nil {
			continue
		}
		_ = os.Remove(target) // no-op if not empty or already gone
	}

	return nil
}

// restoreBackup moves one backed-up entry back to its original location.
// Regular files were relocated whole; symlinks were recorded as a small
// "SYMLINK:<target>" marker file since the link itself can't be hardlinked
// aside; directories need no restoration since backup never removes them.
func restoreBackup(root string, rec Record) error {
	target, err := safeJoin(root, rec.Path)
	if err != nil {
		return err
	}

	switch rec.FileKind {
	case "directory":
		return nil

	case "symlink":
		data, err := os.ReadFile(rec.BackupPath)
		if err != nil {
			return fmt.Errorf("read symlink backup marker: %w", err)
		}
		linkTarget, ok := strings.CutPrefix(string(data), symlinkBackupPrefix)
		if !ok {
			return fmt.Errorf("malformed symlink backup marker for %s", rec.Path)
		}
		_ = os.Remove(target)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("recreate parent dir: %w", err)
		}
		return os.Symlink(linkTarget, target)

	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("recreate parent dir: %w", err)
		}
		return moveFileAtomic(rec.BackupPath, target)
	}
}

// sortDeepestFirst orders paths so children are removed before parents.
func sortDeepestFirst(paths []string) {
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && depth(paths[j-1]) < depth(paths[j]); j-- {
			paths[j-1], paths[j] = paths[j], paths[j-1]
		}
	}
}

func depth(p string) int {
	return strings.Count(strings.Trim(p, "/"), "/")
}
