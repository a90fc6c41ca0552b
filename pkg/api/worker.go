package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conarylabs/conary/pkg/hash"
	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/txn"
	"github.com/conarylabs/conary/pkg/vfs"
)

// InstallSpec is the payload of a KindInstall/KindUpdate job: the file
// operations a format collaborator (pkg/collaborator) has already resolved
// against the target package, ready to run through the transaction engine
// unchanged.
type InstallSpec struct {
	Operations txn.Operations `json:"operations"`
}

// RemoveSpec is the payload of a KindRemove job.
type RemoveSpec struct {
	TroveID       int64               `json:"trove_id"`
	Package       txn.PackageInfo     `json:"package"`
	FilesToRemove []RemoveFileEntry   `json:"files_to_remove"`
	Scriptlets    []txn.ScriptletSpec `json:"scriptlets"`
}

// RemoveFileEntry is one file a RemoveSpec's caller (typically cmd/conary,
// after reading the trove's file manifest from the metadata store) asks the
// engine to back up and delete.
type RemoveFileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	Mode uint32 `json:"mode"`
}

// worker pulls jobs off the queue and runs them one at a time, the
// concurrent layer spec.md describes sitting above a synchronous
// transaction engine: the daemon serialises, it does not parallelise.
type worker struct {
	engine *txn.Engine
	store  storage.Store
	queue  *jobqueue.Queue
}

func (w *worker) run(ctx context.Context) {
	logger := log.WithComponent("api.worker")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, jobCtx, ok, err := w.queue.Dequeue()
		if err != nil {
			logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		w.execute(jobCtx, job)
	}
}

func (w *worker) execute(ctx context.Context, job *jobqueue.Job) {
	logger := log.WithComponent("api.worker")
	if err := w.queue.UpdateStatus(job.ID, jobqueue.StatusRunning); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job running")
	}

	result, err := w.run1(ctx, job)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
		_ = w.queue.SetError(job.ID, err)
		_ = w.queue.UpdateStatus(job.ID, jobqueue.StatusFailed)
		return
	}

	if result != nil {
		_ = w.queue.SetResult(job.ID, result)
	}
	_ = w.queue.UpdateStatus(job.ID, jobqueue.StatusCompleted)
}

func (w *worker) run1(ctx context.Context, job *jobqueue.Job) (json.RawMessage, error) {
	switch job.Kind {
	// A rollback is an install of the target changeset's operations with
	// the roles of old and new package swapped, built by the caller before
	// enqueueing; the engine runs it through the identical transaction
	// pipeline as a forward install.
	case jobqueue.KindInstall, jobqueue.KindUpdate, jobqueue.KindRollback:
		var spec InstallSpec
		if err := json.Unmarshal(job.Spec, &spec); err != nil {
			return nil, fmt.Errorf("decode install spec: %w", err)
		}
		return w.runInstall(ctx, spec)
	case jobqueue.KindRemove:
		var spec RemoveSpec
		if err := json.Unmarshal(job.Spec, &spec); err != nil {
			return nil, fmt.Errorf("decode remove spec: %w", err)
		}
		return w.runRemove(ctx, spec)
	case jobqueue.KindGarbageCollect:
		return w.runGC(ctx)
	default:
		return nil, fmt.Errorf("job kind %q not supported by this daemon build", job.Kind)
	}
}

// runInstall drives one transaction end to end: plan, prepare, pre-scripts,
// backup, stage, apply, DB commit, post-scripts/triggers, finish. Any
// failure before the DbCommitIntent barrier aborts and rolls the filesystem
// back; a failure after it returns without aborting and leaves the journal
// for recovery to settle.
func (w *worker) runInstall(ctx context.Context, spec InstallSpec) (json.RawMessage, error) {
	tx, err := w.engine.Begin(ctx, fmt.Sprintf("install %s %s", spec.Operations.Package.Name, spec.Operations.Package.Version))
	if err != nil {
		return nil, err
	}

	plan, err := tx.Plan(ctx, spec.Operations)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if plan.HasConflicts() {
		_ = tx.Abort(ctx)
		return nil, fmt.Errorf("plan has %d conflicts", len(plan.Conflicts))
	}

	if err := tx.Prepare(ctx, spec.Operations.FilesToAdd); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	scriptRunner := txn.NewScriptletRunner(w.engine.Config().Root)
	if err := tx.RunPreScripts(ctx, scriptRunner); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	if err := tx.BackupFiles(ctx); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if err := tx.StageFiles(ctx); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	fsResult, err := tx.ApplyFilesystem(ctx)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	if err := tx.WriteDBCommitIntent(); err != nil {
		return nil, err
	}

	var troveID, changesetID int64
	if err := w.store.WithTx(ctx, func(ctx context.Context, store storage.Store) error {
		var err error
		troveID, changesetID, err = w.recordInstall(ctx, store, tx.UUID(), spec.Operations)
		return err
	}); err != nil {
		return nil, fmt.Errorf("record install in metadata store: %w", err)
	}

	if err := tx.RecordDBCommit(changesetID, troveID); err != nil {
		return nil, err
	}

	triggers := txn.NewTriggerExecutor(w.store, w.engine.Config().Root)
	if err := triggers.RecordMatches(ctx, changesetID, touchedPaths(spec.Operations)); err != nil {
		log.WithComponent("api.worker").Error().Err(err).Msg("trigger matching failed")
	}
	if err := tx.RunPostScripts(ctx, scriptRunner, triggers, changesetID); err != nil {
		return nil, err
	}

	txResult, err := tx.Finish()
	if err != nil {
		return nil, err
	}

	out, _ := json.Marshal(struct {
		TxUUID      string `json:"tx_uuid"`
		TroveID     int64  `json:"trove_id"`
		ChangesetID int64  `json:"changeset_id"`
		FilesAdded  int    `json:"files_added"`
	}{txResult.TxUUID, troveID, changesetID, fsResult.FilesAdded})
	return out, nil
}

// recordInstall writes the trove/file rows a successful filesystem apply
// needs reflected in the metadata store, and opens the changeset those
// rows belong to, all inside the single DB transaction store.WithTx gives
// it. The caller runs this between WriteDBCommitIntent and RecordDBCommit:
// by the time this returns, either every row below committed together or
// none of them did.
func (w *worker) recordInstall(ctx context.Context, store storage.Store, txUUID string, ops txn.Operations) (troveID, changesetID int64, err error) {
	changesetID, err = store.CreateChangeset(ctx, &storage.Changeset{
		Description: fmt.Sprintf("install %s %s", ops.Package.Name, ops.Package.Version),
		Status:      "applied",
		TxUUID:      txUUID,
	})
	if err != nil {
		return 0, 0, err
	}

	troveID, err = store.CreateTrove(ctx, &storage.Trove{
		Name:                   ops.Package.Name,
		Version:                ops.Package.Version,
		Architecture:           ops.Package.Arch,
		Type:                   "package",
		InstalledByChangesetID: changesetID,
	})
	if err != nil {
		return 0, 0, err
	}

	for _, f := range ops.FilesToAdd {
		digest := hash.SHA256(f.Content)
		if _, err := store.CreateFile(ctx, &storage.File{
			Path:        f.Path,
			SHA256Hash:  digest.String(),
			Size:        int64(len(f.Content)),
			Permissions: f.Mode,
			TroveID:     troveID,
		}); err != nil {
			return 0, 0, err
		}
	}

	if ops.HasOldPackage {
		if err := w.removeOldTrove(ctx, store, ops.OldPackage); err != nil {
			return 0, 0, err
		}
	}

	return troveID, changesetID, nil
}

func (w *worker) removeOldTrove(ctx context.Context, store storage.Store, old txn.PackageInfo) error {
	existing, err := store.GetTroveByName(ctx, old.Name, old.Version, old.Arch)
	if err != nil {
		return nil // nothing recorded for the old version; nothing to clean up
	}
	if err := store.DeleteFilesByTrove(ctx, existing.ID); err != nil {
		return err
	}
	return store.DeleteTrove(ctx, existing.ID)
}

// runRemove drives a removal transaction: no new files are added, only an
// existing trove's files are backed up (for rollback) and removed.
func (w *worker) runRemove(ctx context.Context, spec RemoveSpec) (json.RawMessage, error) {
	filesToRemove := make([]vfs.FileToRemove, 0, len(spec.FilesToRemove))
	for _, f := range spec.FilesToRemove {
		filesToRemove = append(filesToRemove, vfs.FileToRemove{Path: f.Path, Hash: f.Hash, Size: f.Size, Mode: f.Mode})
	}

	ops := txn.Operations{
		Package:       spec.Package,
		FilesToRemove: filesToRemove,
		Scriptlets:    spec.Scriptlets,
	}

	tx, err := w.engine.Begin(ctx, fmt.Sprintf("remove %s %s", spec.Package.Name, spec.Package.Version))
	if err != nil {
		return nil, err
	}

	plan, err := tx.Plan(ctx, ops)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if plan.HasConflicts() {
		_ = tx.Abort(ctx)
		return nil, fmt.Errorf("plan has %d conflicts", len(plan.Conflicts))
	}
	if err := tx.Prepare(ctx, nil); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	scriptRunner := txn.NewScriptletRunner(w.engine.Config().Root)
	if err := tx.RunPreScripts(ctx, scriptRunner); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if err := tx.BackupFiles(ctx); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	if err := tx.StageFiles(ctx); err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}
	fsResult, err := tx.ApplyFilesystem(ctx)
	if err != nil {
		_ = tx.Abort(ctx)
		return nil, err
	}

	if err := tx.WriteDBCommitIntent(); err != nil {
		return nil, err
	}

	var changesetID int64
	if err := w.store.WithTx(ctx, func(ctx context.Context, store storage.Store) error {
		var err error
		changesetID, err = store.CreateChangeset(ctx, &storage.Changeset{
			Description: fmt.Sprintf("remove %s %s", spec.Package.Name, spec.Package.Version),
			Status:      "applied",
			TxUUID:      tx.UUID(),
		})
		if err != nil {
			return err
		}
		if err := store.DeleteFilesByTrove(ctx, spec.TroveID); err != nil {
			return err
		}
		return store.DeleteTrove(ctx, spec.TroveID)
	}); err != nil {
		return nil, fmt.Errorf("record remove in metadata store: %w", err)
	}

	if err := tx.RecordDBCommit(changesetID, spec.TroveID); err != nil {
		return nil, err
	}

	triggers := txn.NewTriggerExecutor(w.store, w.engine.Config().Root)
	removedPaths := make([]string, 0, len(spec.FilesToRemove))
	for _, f := range spec.FilesToRemove {
		removedPaths = append(removedPaths, f.Path)
	}
	if err := triggers.RecordMatches(ctx, changesetID, removedPaths); err != nil {
		log.WithComponent("api.worker").Error().Err(err).Msg("trigger matching failed")
	}
	if err := tx.RunPostScripts(ctx, scriptRunner, triggers, changesetID); err != nil {
		return nil, err
	}

	txResult, err := tx.Finish()
	if err != nil {
		return nil, err
	}

	out, _ := json.Marshal(struct {
		TxUUID       string `json:"tx_uuid"`
		ChangesetID  int64  `json:"changeset_id"`
		FilesRemoved int    `json:"files_removed"`
	}{txResult.TxUUID, changesetID, fsResult.FilesRemoved})
	return out, nil
}

// runGC sweeps the CAS for objects no installed trove's file row references
// any more, such as the content a package's superseded version left behind.
// Every unreferenced object is removed; no older content is retained.
func (w *worker) runGC(ctx context.Context) (json.RawMessage, error) {
	troves, err := w.store.ListTroves(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool)
	for _, t := range troves {
		files, err := w.store.ListFilesByTrove(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			referenced[f.SHA256Hash] = true
		}
	}

	result, err := w.engine.CAS().Sweep(referenced)
	if err != nil {
		return nil, err
	}

	out, _ := json.Marshal(struct {
		ObjectsRemoved int   `json:"objects_removed"`
		BytesFreed     int64 `json:"bytes_freed"`
	}{result.ObjectsRemoved, result.BytesFreed})
	return out, nil
}

// touchedPaths collects every path a transaction's files operation
// touches, used to match triggers against the final filesystem state.
func touchedPaths(ops txn.Operations) []string {
	paths := make([]string, 0, len(ops.FilesToAdd)+len(ops.FilesToRemove))
	for _, f := range ops.FilesToAdd {
		paths = append(paths, f.Path)
	}
	for _, f := range ops.FilesToRemove {
		paths = append(paths, f.Path)
	}
	return paths
}
