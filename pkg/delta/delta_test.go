package delta

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/conarylabs/conary/pkg/cas"
)

func TestMetricsCalculation(t *testing.T) {
	m := NewMetrics(1000, 1200, 300)

	if m.OldSize != 1000 || m.NewSize != 1200 || m.DeltaSize != 300 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	wantRatio := 300.0 / 1200.0
	if m.CompressionRatio != wantRatio {
		t.Fatalf("ratio = %f, want %f", m.CompressionRatio, wantRatio)
	}
	if m.BandwidthSaved != 900 {
		t.Fatalf("bandwidth saved = %d, want 900", m.BandwidthSaved)
	}
	if !m.IsWorthwhile() {
		t.Fatal("expected delta to be worthwhile")
	}
}

func TestMetricsNotWorthwhileAboveThreshold(t *testing.T) {
	// delta barely smaller than the original: not worthwhile.
	m := NewMetrics(1000, 1000, 950)
	if m.IsWorthwhile() {
		t.Fatal("expected delta not to be worthwhile above the 0.9 ratio threshold")
	}
}

func TestMetricsZeroNewSize(t *testing.T) {
	m := NewMetrics(0, 0, 0)
	if m.CompressionRatio != 1.0 {
		t.Fatalf("ratio for zero-size new content should be 1.0, got %f", m.CompressionRatio)
	}
	if m.SavingsPercentage() != 0 {
		t.Fatalf("savings percentage for zero-size new content should be 0, got %f", m.SavingsPercentage())
	}
}

func TestGenerateApplyRoundTrip(t *testing.T) {
	store, err := cas.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	oldContent := []byte(strings.Repeat("version one of the file\n", 200))
	newContent := []byte(strings.Repeat("version one of the file\n", 200) + "one more line appended\n")

	oldDigest, err := store.Store(oldContent)
	if err != nil {
		t.Fatal(err)
	}
	newDigest, err := store.Store(newContent)
	if err != nil {
		t.Fatal(err)
	}

	deltaPath := filepath.Join(t.TempDir(), "delta.zst")

	gen := NewGenerator(store)
	metrics, err := gen.Generate(oldDigest, newDigest, deltaPath)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.NewSize != uint64(len(newContent)) {
		t.Fatalf("metrics.NewSize = %d, want %d", metrics.NewSize, len(newContent))
	}
	if !metrics.IsWorthwhile() {
		t.Fatalf("expected small edit to similar content to produce a worthwhile delta, got ratio %f", metrics.CompressionRatio)
	}

	applier := NewApplier(store)
	actualDigest, err := applier.Apply(oldDigest, deltaPath, newDigest)
	if err != nil {
		t.Fatal(err)
	}
	if actualDigest != newDigest {
		t.Fatalf("actualDigest = %s, want %s", actualDigest, newDigest)
	}

	got, err := store.Retrieve(actualDigest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(newContent) {
		t.Fatal("reconstructed content does not match new content")
	}
}

func TestApplyChecksumMismatch(t *testing.T) {
	store, err := cas.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	oldContent := []byte("old content")
	newContent := []byte("new content, slightly different")

	oldDigest, err := store.Store(oldContent)
	if err != nil {
		t.Fatal(err)
	}
	newDigest, err := store.Store(newContent)
	if err != nil {
		t.Fatal(err)
	}

	deltaPath := filepath.Join(t.TempDir(), "delta.zst")
	gen := NewGenerator(store)
	if _, err := gen.Generate(oldDigest, newDigest, deltaPath); err != nil {
		t.Fatal(err)
	}

	applier := NewApplier(store)
	_, err = applier.Apply(oldDigest, deltaPath, "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
