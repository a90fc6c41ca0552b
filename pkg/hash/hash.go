// Package hash implements Conary's pluggable content-hashing layer. The CAS,
// the resolver's trove identifiers, and the delta engine all address content
// by the digests this package produces.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Algorithm selects the digest function used to address content.
type Algorithm int

const (
	// Sha256 is the default: cryptographic, safe for package signature
	// verification and cross-host trust.
	Sha256 Algorithm = iota
	// Xxh128 is a fast non-cryptographic hash for pure local deduplication,
	// where collision resistance against an adversary is not required.
	Xxh128
)

func (a Algorithm) String() string {
	switch a {
	case Sha256:
		return "sha256"
	case Xxh128:
		return "xxh128"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses the string form used in config files and CLI flags.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "sha256", "":
		return Sha256, nil
	case "xxh128":
		return Xxh128, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", s)
	}
}

// Digest is a hex-encoded content digest. Its length encodes the algorithm
// that produced it (64 hex chars for SHA-256, 32 for XXH3-128), which is how
// Algorithm infers it without being told the algorithm explicitly.
type Digest string

func (d Digest) String() string { return string(d) }

// Algorithm infers the algorithm that produced d from its length.
func (d Digest) Algorithm() Algorithm {
	if len(d) == 32 {
		return Xxh128
	}
	return Sha256
}

// Bytes computes the digest of content using algo.
func Bytes(algo Algorithm, content []byte) Digest {
	switch algo {
	case Xxh128:
		sum := xxh3.Hash128(content)
		b := sum.Bytes()
		return Digest(hex.EncodeToString(b[:]))
	default:
		sum := sha256.Sum256(content)
		return Digest(hex.EncodeToString(sum[:]))
	}
}

// SHA256 is a convenience wrapper used where the algorithm is known to be
// SHA-256 regardless of a store's configured default (signature verification).
func SHA256(content []byte) Digest {
	return Bytes(Sha256, content)
}
