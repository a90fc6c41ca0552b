// Package delta generates and applies zstd dictionary-compressed deltas
// between two CAS blobs, so package updates can ship only the changed
// portion of a file instead of its full content.
package delta

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/conarylabs/conary/pkg/cas"
	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/log"
)

// compressionLevel is zstd's "fast, good compression" tier; deltas favor
// generation speed over the last few percent of size.
const compressionLevel = zstd.SpeedDefault

// MaxDeltaRatio is the threshold above which a delta is not considered
// worthwhile relative to shipping the new content whole.
const MaxDeltaRatio = 0.9

// Metrics describes the outcome of generating a delta.
type Metrics struct {
	OldSize          uint64
	NewSize          uint64
	DeltaSize        uint64
	CompressionRatio float64
	BandwidthSaved   int64
}

// NewMetrics computes derived fields (ratio, bandwidth saved) from raw sizes.
func NewMetrics(oldSize, newSize, deltaSize uint64) Metrics {
	ratio := 1.0
	if newSize > 0 {
		ratio = float64(deltaSize) / float64(newSize)
	}
	return Metrics{
		OldSize:          oldSize,
		NewSize:          newSize,
		DeltaSize:        deltaSize,
		CompressionRatio: ratio,
		BandwidthSaved:   int64(newSize) - int64(deltaSize),
	}
}

// IsWorthwhile reports whether the delta is smaller than MaxDeltaRatio of
// the new content's size; callers should ship the full new blob otherwise.
func (m Metrics) IsWorthwhile() bool {
	return m.CompressionRatio < MaxDeltaRatio
}

// SavingsPercentage returns the percentage of bandwidth saved versus
// shipping the new content whole.
func (m Metrics) SavingsPercentage() float64 {
	if m.NewSize == 0 {
		return 0
	}
	return (float64(m.BandwidthSaved) / float64(m.NewSize)) * 100
}

// Generator creates deltas between two versions of CAS-stored content.
type Generator struct {
	cas *cas.Store
}

// NewGenerator builds a Generator over an existing CAS store.
func NewGenerator(store *cas.Store) *Generator {
	return &Generator{cas: store}
}

// Generate writes a delta from oldDigest to newDigest at outputPath, using
// the old content as a zstd dictionary, and returns the resulting metrics.
func (g *Generator) Generate(oldDigest, newDigest, outputPath string) (Metrics, error) {
	logger := log.WithComponent("delta")
	logger.Info().Str("old", shortHash(oldDigest)).Str("new", shortHash(newDigest)).Msg("generating delta")

	oldContent, err := g.cas.Retrieve(oldDigest)
	if err != nil {
		return Metrics{}, fmt.Errorf("retrieve old version: %w", err)
	}
	newContent, err := g.cas.Retrieve(newDigest)
	if err != nil {
		return Metrics{}, fmt.Errorf("retrieve new version: %w", err)
	}

	compressed, err := compressWithDictionary(newContent, oldContent)
	if err != nil {
		return Metrics{}, err
	}

	if err := os.WriteFile(outputPath, compressed, 0o644); err != nil {
		return Metrics{}, fmt.Errorf("write delta file: %w", err)
	}

	metrics := NewMetrics(uint64(len(oldContent)), uint64(len(newContent)), uint64(len(compressed)))
	logger.Info().
		Uint64("delta_size", metrics.DeltaSize).
		Float64("ratio", metrics.CompressionRatio).
		Float64("saved_pct", metrics.SavingsPercentage()).
		Msg("delta generated")
	return metrics, nil
}

func compressWithDictionary(data, dictionary []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(compressionLevel), zstd.WithEncoderDict(dictionary))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Applier reconstructs new content from an old CAS blob plus a delta file.
type Applier struct {
	cas *cas.Store
}

// NewApplier builds an Applier over an existing CAS store.
func NewApplier(store *cas.Store) *Applier {
	return &Applier{cas: store}
}

// Apply reconstructs the new content from oldDigest and the delta at
// deltaPath, stores it in CAS, and verifies it hashes to expectedNewDigest.
func (a *Applier) Apply(oldDigest, deltaPath, expectedNewDigest string) (string, error) {
	logger := log.WithComponent("delta")
	logger.Info().Str("old", shortHash(oldDigest)).Str("expect", shortHash(expectedNewDigest)).Msg("applying delta")

	oldContent, err := a.cas.Retrieve(oldDigest)
	if err != nil {
		return "", fmt.Errorf("retrieve old version: %w", err)
	}

	compressed, err := os.ReadFile(deltaPath)
	if err != nil {
		return "", fmt.Errorf("read delta file: %w", err)
	}

	newContent, err := decompressWithDictionary(compressed, oldContent)
	if err != nil {
		return "", err
	}

	actualDigest, err := a.cas.Store(newContent)
	if err != nil {
		return "", fmt.Errorf("store reconstructed content: %w", err)
	}

	if actualDigest != expectedNewDigest {
		return "", conaryerr.New(conaryerr.KindDataCorrupt,
			fmt.Sprintf("checksum mismatch applying delta: expected %s, got %s", expectedNewDigest, actualDigest))
	}

	logger.Info().Int("old_bytes", len(oldContent)).Int("new_bytes", len(newContent)).Msg("delta applied")
	return actualDigest, nil
}

func decompressWithDictionary(compressed, dictionary []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDicts(dictionary))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress delta: %w", err)
	}
	return out, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
