package txn

import (
	"path/filepath"
	"testing"

	"github.com/conarylabs/conary/pkg/hash"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("/", "/var/lib/conary/conary.db")

	if cfg.Root != "/" {
		t.Fatalf("Root = %q, want /", cfg.Root)
	}
	if cfg.TxnDir != filepath.Join("/var/lib/conary", "txn") {
		t.Fatalf("TxnDir = %q", cfg.TxnDir)
	}
	if cfg.JournalDir != filepath.Join("/var/lib/conary", "journal") {
		t.Fatalf("JournalDir = %q", cfg.JournalDir)
	}
	if cfg.HashAlgorithm != hash.Sha256 {
		t.Fatalf("HashAlgorithm = %v, want Sha256", cfg.HashAlgorithm)
	}
	if !cfg.PreserveOldContent {
		t.Fatal("expected PreserveOldContent to default true")
	}
}
