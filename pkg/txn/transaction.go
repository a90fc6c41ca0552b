package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/vfs"
)

// Transaction is a single in-flight install/upgrade/remove operation. Its
// methods are called in the order the state machine defines. Plan, Prepare,
// RunPreScripts and RunPostScripts return a usage error when called from
// any other state; BackupFiles, StageFiles and ApplyFilesystem only check
// that Plan has run, and the remaining methods do not check the state.
type Transaction struct {
	engine      *Engine
	uuid        string
	journal     *Journal
	state       State
	plan        *vfs.Plan
	ops         Operations
	startTime   time.Time
	description string
	lockFile    *os.File
	logger      zerolog.Logger

	progress ProgressFunc
}

// UUID returns the transaction's unique identifier.
func (t *Transaction) UUID() string { return t.uuid }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State { return t.state }

// PlanResult returns the plan computed by Plan, or nil if it hasn't run yet.
func (t *Transaction) PlanResult() *vfs.Plan { return t.plan }

// SetProgress attaches a callback invoked during long-running phases.
func (t *Transaction) SetProgress(p ProgressFunc) { t.progress = p }

// Plan computes the filesystem plan for ops using the live probe against
// the engine's root and metadata store, and journals it.
func (t *Transaction) Plan(ctx context.Context, ops Operations) (*vfs.Plan, error) {
	if t.state != StateNew {
		return nil, stateError("plan", t.state)
	}

	probe := newLiveProbe(ctx, t.engine.config.Root, t.engine.store, t.engine.cas)
	planner := vfs.NewPlanner(probe)
	plan := planner.PlanInstall(ops.FilesToAdd, ops.FilesToRemove, ops.Package.Name, ops.IsUpgrade)

	oldVersion := ""
	if ops.HasOldPackage {
		oldVersion = ops.OldPackage.Version
	}
	if err := t.journal.WriteBarrier(Record{
		Kind:           RecordPlan,
		Operations:     plan.Operations,
		PackageName:    ops.Package.Name,
		PackageVersion: ops.Package.Version,
		IsUpgrade:      ops.IsUpgrade,
		OldVersion:     oldVersion,
	}); err != nil {
		return nil, err
	}

	t.plan = plan
	t.ops = ops
	t.state = StatePlanned
	t.logger.Info().Int("conflicts", len(plan.Conflicts)).Msg("transaction planned")
	return plan, nil
}

// Prepare stores every non-symlink file's content in the CAS.
func (t *Transaction) Prepare(ctx context.Context, files []vfs.ExtractedFile) error {
	if t.state != StatePlanned {
		return stateError("prepare", t.state)
	}

	var totalBytes int64
	for _, f := range files {
		if f.IsSymlink {
			continue
		}
		if _, err := t.engine.cas.Store(f.Content); err != nil {
			return fmt.Errorf("stage content for %s in CAS: %w", f.Path, err)
		}
		totalBytes += int64(len(f.Content))
	}

	if err := t.journal.WriteBarrier(Record{
		Kind:       RecordPrepared,
		FilesInCAS: len(files),
		TotalBytes: totalBytes,
	}); err != nil {
		return err
	}
	t.state = StatePrepared
	return nil
}

// RunPreScripts runs the operation's pre-install scriptlets, or its
// pre-upgrade scriptlets when IsUpgrade is set, then advances to
// PreScriptsComplete. Pre-remove scriptlets are never selected.
func (t *Transaction) RunPreScripts(ctx context.Context, runner *ScriptletRunner) error {
	if t.state != StatePrepared {
		return stateError("run pre-scripts", t.state)
	}
	phase := "pre-install"
	if t.ops.IsUpgrade {
		phase = "pre-upgrade"
	}
	if runner != nil {
		if err := runner.RunPhase(ctx, phase, t.ops.Scriptlets); err != nil {
			return fmt.Errorf("pre-install scriptlet failed: %w", err)
		}
	}
	t.state = StatePreScriptsComplete
	return nil
}

// BackupFiles moves every file the plan will overwrite or remove into the
// transaction's backup working directory, so a rollback can restore it.
func (t *Transaction) BackupFiles(ctx context.Context) error {
	if t.plan == nil {
		return conaryerr.New(conaryerr.KindUsage, "transaction not planned")
	}

	backupDir := filepath.Join(t.engine.TxnWorkDir(t.uuid), "backup")
	total := uint64(len(t.plan.FilesToBackup))

	for i, b := range t.plan.FilesToBackup {
		if err := checkCancelled(ctx, "backup"); err != nil {
			return err
		}
		reportProgress(t.progress, uint64(i), total, "backing up "+b.Path)

		source, err := safeJoin(t.engine.config.Root, b.Path)
		if err != nil {
			return err
		}
		backupPath := filepath.Join(backupDir, strings.TrimPrefix(b.Path, "/"))
		if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
			return fmt.Errorf("create backup parent dir: %w", err)
		}

		fileKind := "regular"
		info, statErr := os.Lstat(source)
		switch {
		case statErr != nil:
			// Nothing on disk to back up (e.g. a removed file already gone);
			// still record the metadata we have so recovery can tell.
		case info.Mode()&os.ModeSymlink != 0:
			fileKind = "symlink"
			target, err := os.Readlink(source)
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", source, err)
			}
			if err := os.WriteFile(backupPath, []byte("SYMLINK:"+target), 0o644); err != nil {
				return fmt.Errorf("write symlink backup %s: %w", backupPath, err)
			}
		case info.IsDir():
			fileKind = "directory"
			if err := os.MkdirAll(backupPath, 0o755); err != nil {
				return fmt.Errorf("create directory backup %s: %w", backupPath, err)
			}
		default:
			if err := moveFileAtomic(source, backupPath); err != nil {
				return err
			}
		}

		if err := t.journal.Write(Record{
			Kind:       RecordBackup,
			Path:       b.Path,
			BackupPath: backupPath,
			FileKind:   fileKind,
			OldHash:    b.CurrentHash,
			OldMode:    b.Mode,
			OldSize:    b.Size,
		}); err != nil {
			return err
		}
	}

	if err := t.journal.WriteBarrier(Record{Kind: RecordBackupsComplete, Count: len(t.plan.FilesToBackup)}); err != nil {
		return err
	}
	t.state = StateBackedUp
	return nil
}

// StageFiles materializes every new file's content into the transaction's
// stage directory, hardlinking from the CAS where possible.
func (t *Transaction) StageFiles(ctx context.Context) error {
	if t.plan == nil {
		return conaryerr.New(conaryerr.KindUsage, "transaction not planned")
	}

	stageDir := filepath.Join(t.engine.TxnWorkDir(t.uuid), "stage")
	total := uint64(len(t.plan.FilesToStage))

	for i, s := range t.plan.FilesToStage {
		if err := checkCancelled(ctx, "stage"); err != nil {
			return err
		}
		reportProgress(t.progress, uint64(i), total, "staging "+s.Path)

		stagePath := filepath.Join(stageDir, strings.TrimPrefix(s.Path, "/"))
		if err := os.MkdirAll(filepath.Dir(stagePath), 0o755); err != nil {
			return fmt.Errorf("create stage parent dir: %w", err)
		}

		fileKind := "regular"
		if s.IsSymlink {
			fileKind = "symlink"
			if err := os.Symlink(s.SymlinkTarget, stagePath); err != nil {
				return fmt.Errorf("stage symlink %s: %w", s.Path, err)
			}
		} else {
			casPath := t.engine.cas.PathFor(s.Digest)
			if err := os.Link(casPath, stagePath); err != nil {
				content, err := t.engine.cas.Retrieve(s.Digest)
				if err != nil {
					return fmt.Errorf("retrieve %s from CAS to stage: %w", s.Path, err)
				}
				if err := os.WriteFile(stagePath, content, 0o644); err != nil {
					return fmt.Errorf("write staged file %s: %w", s.Path, err)
				}
			}
			if err := os.Chmod(stagePath, os.FileMode(s.Mode)); err != nil {
				return fmt.Errorf("chmod staged file %s: %w", s.Path, err)
			}
		}

		if err := t.journal.Write(Record{
			Kind:      RecordStage,
			Path:      s.Path,
			StagePath: stagePath,
			NewHash:   s.Digest,
			NewMode:   s.Mode,
			FileKind:  fileKind,
		}); err != nil {
			return err
		}
	}

	if err := t.journal.WriteBarrier(Record{Kind: RecordStagingComplete, Count: len(t.plan.FilesToStage)}); err != nil {
		return err
	}
	t.state = StateStaged
	return nil
}

// ApplyFilesystem performs the atomic renames that move staged content and
// directory creation/removal into their final locations under root.
func (t *Transaction) ApplyFilesystem(ctx context.Context) (FsApplyResult, error) {
	var result FsApplyResult
	if t.plan == nil {
		return result, conaryerr.New(conaryerr.KindUsage, "transaction not planned")
	}

	stageDir := filepath.Join(t.engine.TxnWorkDir(t.uuid), "stage")
	backedUp := make(map[string]bool, len(t.plan.FilesToBackup))
	for _, b := range t.plan.FilesToBackup {
		backedUp[b.Path] = true
	}

	removeCount := 0
	for _, op := range t.plan.Operations {
		if op.Type == vfs.OpRemoveFile || op.Type == vfs.OpRemoveSymlink {
			removeCount++
		}
	}
	total := uint64(len(t.plan.DirsToCreate) + len(t.plan.FilesToStage) + removeCount + len(t.plan.DirsToRemove))
	var current uint64

	for _, dir := range t.plan.DirsToCreate {
		if err := checkCancelled(ctx, "apply"); err != nil {
			return result, err
		}
		reportProgress(t.progress, current, total, "creating "+dir)
		current++

		target, err := safeJoin(t.engine.config.Root, dir)
		if err != nil {
			return result, err
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return result, fmt.Errorf("create directory %s: %w", target, err)
		}
		result.DirsCreated++
	}

	for _, s := range t.plan.FilesToStage {
		if err := checkCancelled(ctx, "apply"); err != nil {
			return result, err
		}
		reportProgress(t.progress, current, total, "installing "+s.Path)
		current++

		stagePath := filepath.Join(stageDir, strings.TrimPrefix(s.Path, "/"))
		target, err := safeJoin(t.engine.config.Root, s.Path)
		if err != nil {
			return result, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return result, fmt.Errorf("create parent of %s: %w", target, err)
		}
		if err := moveFileAtomic(stagePath, target); err != nil {
			return result, err
		}
		if backedUp[s.Path] {
			result.FilesReplaced++
		} else {
			result.FilesAdded++
		}
	}

	for _, op := range t.plan.Operations {
		if op.Type != vfs.OpRemoveFile && op.Type != vfs.OpRemoveSymlink {
			continue
		}
		if err := checkCancelled(ctx, "apply"); err != nil {
			return result, err
		}
		reportProgress(t.progress, current, total, "removing "+op.Path)
		current++

		target, err := safeJoin(t.engine.config.Root, op.Path)
		if err != nil {
			return result, err
		}
		if _, err := os.Lstat(target); err == nil {
			if err := os.Remove(target); err != nil {
				return result, fmt.Errorf("remove %s: %w", target, err)
			}
			result.FilesRemoved++
		}
	}

	for _, dir := range t.plan.DirsToRemove {
		if err := checkCancelled(ctx, "apply"); err != nil {
			return result, err
		}
		reportProgress(t.progress, current, total, "cleaning up "+dir)
		current++

		target, err := safeJoin(t.engine.config.Root, dir)
		if err != nil {
			return result, err
		}
		if entries, err := os.ReadDir(target); err == nil && len(entries) == 0 {
			if err := os.Remove(target); err != nil {
				return result, fmt.Errorf("remove empty directory %s: %w", target, err)
			}
			result.DirsRemoved++
		}
	}

	if err := t.journal.WriteBarrier(Record{
		Kind:          RecordFsApplied,
		FilesAdded:    result.FilesAdded,
		FilesReplaced: result.FilesReplaced,
		FilesRemoved:  result.FilesRemoved,
		DirsCreated:   result.DirsCreated,
	}); err != nil {
		return result, err
	}
	t.state = StateFsApplied
	return result, nil
}

// WriteDBCommitIntent records, before the metadata store's own transaction
// commits, that this transaction is about to cross the point of no return.
// If the process crashes between this record and RecordDBCommit, recovery
// can tell the database commit may or may not have landed and must check.
func (t *Transaction) WriteDBCommitIntent() error {
	return t.journal.WriteBarrier(Record{Kind: RecordDbCommitIntent, TxUUID: t.uuid})
}

// RecordDBCommit records that the database transaction committed. This is
// the point of no return: from here, recovery only rolls forward.
func (t *Transaction) RecordDBCommit(changesetID, troveID int64) error {
	if err := t.journal.WriteBarrier(Record{
		Kind:        RecordDbApplied,
		ChangesetID: changesetID,
		TroveID:     troveID,
	}); err != nil {
		return err
	}
	t.state = StateDbApplied
	return nil
}

// RunPostScripts runs the operation's post-install scriptlets (post-upgrade
// when IsUpgrade is set; post-remove scriptlets are never selected) and the
// triggers pending for changesetID, then advances state.
func (t *Transaction) RunPostScripts(ctx context.Context, scriptRunner *ScriptletRunner, triggers *TriggerExecutor, changesetID int64) error {
	if t.state != StateDbApplied {
		return stateError("run post-scripts", t.state)
	}

	phase := "post-install"
	if t.ops.IsUpgrade {
		phase = "post-upgrade"
	}
	if scriptRunner != nil {
		if err := scriptRunner.RunPhase(ctx, phase, t.ops.Scriptlets); err != nil {
			t.logger.Error().Err(err).Msg("post-install scriptlet failed")
		}
	}

	if triggers != nil && changesetID != 0 {
		if _, err := triggers.ExecutePending(ctx, changesetID); err != nil {
			t.logger.Error().Err(err).Msg("trigger execution failed")
		}
	}

	t.state = StatePostScriptsComplete
	return nil
}

// Finish cleans up the working directory, archives the journal, releases
// the lock, and returns a summary of what happened.
func (t *Transaction) Finish() (Result, error) {
	duration := time.Since(t.startTime).Milliseconds()

	workDir := t.engine.TxnWorkDir(t.uuid)
	if err := os.RemoveAll(workDir); err != nil {
		return Result{}, fmt.Errorf("clean up transaction work dir: %w", err)
	}

	if err := t.journal.WriteBarrier(Record{Kind: RecordDone, DurationMS: duration, Success: true}); err != nil {
		return Result{}, err
	}
	if err := t.journal.Archive(); err != nil {
		return Result{}, fmt.Errorf("archive journal: %w", err)
	}

	t.state = StateDone
	releaseLock(t.lockFile)
	t.lockFile = nil

	t.logger.Info().Int64("duration_ms", duration).Msg("transaction finished")
	return Result{TxUUID: t.uuid, DurationMS: duration}, nil
}

// Abort rolls back every change this transaction made and discards its
// journal. Only valid while t.state.IsRecoverable() is true; calling it
// after the database has committed is a programming error, since the
// committed data can no longer be un-applied here.
func (t *Transaction) Abort(ctx context.Context) error {
	records, err := t.journal.ReadAll()
	if err != nil {
		return err
	}

	if err := rollbackTransaction(ctx, t.engine, t.uuid, records); err != nil {
		return fmt.Errorf("roll back transaction %s: %w", t.uuid, err)
	}

	workDir := t.engine.TxnWorkDir(t.uuid)
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("clean up transaction work dir: %w", err)
	}
	if err := t.journal.Delete(); err != nil {
		return fmt.Errorf("delete journal: %w", err)
	}

	t.state = StateAborted
	releaseLock(t.lockFile)
	t.lockFile = nil

	t.logger.Info().Msg("transaction aborted")
	return nil
}
