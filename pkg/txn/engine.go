package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/conarylabs/conary/pkg/cas"
	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/storage"
)

// Engine is the entry point for running transactions against a single
// root and metadata store. One Engine is created per daemon/CLI process.
type Engine struct {
	config Config
	cas    *cas.Store
	store  storage.Store
}

// New creates an Engine, ensuring its working directories and CAS objects
// directory exist.
func New(config Config, store storage.Store) (*Engine, error) {
	if err := os.MkdirAll(config.TxnDir, 0o755); err != nil {
		return nil, fmt.Errorf("create txn dir: %w", err)
	}
	if err := os.MkdirAll(config.JournalDir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(config.JournalDir, "archive"), 0o755); err != nil {
		return nil, fmt.Errorf("create journal archive dir: %w", err)
	}

	objectsDir := filepath.Join(filepath.Dir(config.DBPath), "objects")
	objects, err := cas.NewWithAlgorithm(objectsDir, config.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("create CAS store: %w", err)
	}

	return &Engine{config: config, cas: objects, store: store}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.config }

// CAS returns the engine's content-addressable store.
func (e *Engine) CAS() *cas.Store { return e.cas }

// TxnWorkDir returns the backup/stage working directory for a transaction.
func (e *Engine) TxnWorkDir(txUUID string) string {
	return filepath.Join(e.config.TxnDir, txUUID)
}

// Recover scans the journal directory for incomplete transactions left by
// a previous process and rolls each one forward or back as its last
// durable state dictates.
func (e *Engine) Recover(ctx context.Context) ([]RecoveryOutcome, error) {
	return recoverAll(ctx, e)
}

// Begin starts a new transaction: acquires the exclusive transaction lock,
// creates its working directories, opens its journal, and writes the
// Begin barrier record.
func (e *Engine) Begin(ctx context.Context, description string) (*Transaction, error) {
	txUUID := uuid.NewString()
	logger := log.WithTxnID(txUUID)

	lockPath := filepath.Join(e.config.TxnDir, "conary.lock")
	lockFile, err := acquireLock(lockPath)
	if err != nil {
		return nil, err
	}

	workDir := e.TxnWorkDir(txUUID)
	if err := os.MkdirAll(filepath.Join(workDir, "backup"), 0o755); err != nil {
		releaseLock(lockFile)
		return nil, fmt.Errorf("create backup work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workDir, "stage"), 0o755); err != nil {
		releaseLock(lockFile)
		return nil, fmt.Errorf("create stage work dir: %w", err)
	}

	journal, err := CreateJournal(e.config.JournalDir, txUUID)
	if err != nil {
		releaseLock(lockFile)
		return nil, err
	}

	tx := &Transaction{
		engine:      e,
		uuid:        txUUID,
		journal:     journal,
		state:       StateNew,
		startTime:   time.Now().UTC(),
		description: description,
		lockFile:    lockFile,
		logger:      logger,
	}

	if err := tx.journal.WriteBarrier(Record{
		Kind:        RecordBegin,
		TxUUID:      txUUID,
		Root:        e.config.Root,
		DBPath:      e.config.DBPath,
		Description: description,
	}); err != nil {
		releaseLock(lockFile)
		return nil, err
	}

	logger.Info().Str("description", description).Msg("transaction begun")
	return tx, nil
}
