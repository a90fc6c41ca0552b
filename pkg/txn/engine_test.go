package txn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/pkg/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	dataDir := t.TempDir()

	store, err := storage.NewSQLiteStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	cfg := NewConfig(root, filepath.Join(dataDir, "conary.db"))

	engine, err := New(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	return engine, store
}

func TestEngineCreation(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, dir := range []string{engine.Config().TxnDir, engine.Config().JournalDir, filepath.Join(engine.Config().JournalDir, "archive")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
	if engine.CAS() == nil {
		t.Fatal("expected CAS store to be initialized")
	}
}

func TestEngineBeginTransaction(t *testing.T) {
	engine, _ := newTestEngine(t)

	tx, err := engine.Begin(context.Background(), "install bash 5.2.21-1")
	if err != nil {
		t.Fatal(err)
	}
	if tx.UUID() == "" {
		t.Fatal("expected non-empty transaction UUID")
	}
	if tx.State() != StateNew {
		t.Fatalf("State() = %v, want StateNew", tx.State())
	}

	workDir := engine.TxnWorkDir(tx.UUID())
	for _, sub := range []string{"backup", "stage"} {
		if info, err := os.Stat(filepath.Join(workDir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected work dir %s/%s to exist", workDir, sub)
		}
	}

	records, err := tx.journal.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Kind != RecordBegin {
		t.Fatalf("expected a single Begin record, got %v", records)
	}

	releaseLock(tx.lockFile)
}

func TestEngineBeginFailsWhenLockHeld(t *testing.T) {
	engine, _ := newTestEngine(t)

	tx, err := engine.Begin(context.Background(), "first")
	if err != nil {
		t.Fatal(err)
	}
	defer releaseLock(tx.lockFile)

	if _, err := engine.Begin(context.Background(), "second"); err == nil {
		t.Fatal("expected second Begin to fail while the first transaction holds the lock")
	}
}
