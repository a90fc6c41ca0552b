// Package cas implements Conary's content-addressable object store: files
// are stored keyed by the hash of their content, enabling deduplication and
// the backup/rollback machinery in pkg/txn, the same way git stores blobs.
package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/hash"
	"github.com/conarylabs/conary/pkg/log"
)

const symlinkPrefix = "symlink:"

// Store is a content-addressable object store rooted at a single directory.
// Objects are laid out as objects/{first-2-hex}/{rest-of-hash} so that the
// objects directory itself never holds more than 256 shard directories.
type Store struct {
	objectsDir string
	algorithm  hash.Algorithm
}

// New creates a store using SHA-256. Use NewWithAlgorithm for XXH3-128.
func New(objectsDir string) (*Store, error) {
	return NewWithAlgorithm(objectsDir, hash.Sha256)
}

// NewWithAlgorithm creates a store at objectsDir, creating it if absent.
func NewWithAlgorithm(objectsDir string, algorithm hash.Algorithm) (*Store, error) {
	if err := os.MkdirAll(objectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create CAS objects dir: %w", err)
	}
	return &Store{objectsDir: objectsDir, algorithm: algorithm}, nil
}

// Algorithm returns the hash algorithm this store addresses content with.
func (s *Store) Algorithm() hash.Algorithm { return s.algorithm }

// ObjectsDir returns the store's root directory.
func (s *Store) ObjectsDir() string { return s.objectsDir }

// ComputeHash hashes content with the store's configured algorithm.
func (s *Store) ComputeHash(content []byte) string {
	return string(hash.Bytes(s.algorithm, content))
}

// PathFor returns the on-disk path for a digest, fanned out by its first two
// hex characters.
func (s *Store) PathFor(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(s.objectsDir, digest)
	}
	return filepath.Join(s.objectsDir, digest[:2], digest[2:])
}

// Exists reports whether digest is already stored.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.PathFor(digest))
	return err == nil
}

// Store writes content keyed by its hash and returns the digest. A second
// Store of identical content is a no-op (deduplication).
func (s *Store) Store(content []byte) (string, error) {
	digest := s.ComputeHash(content)
	path := s.PathFor(digest)

	if _, err := os.Stat(path); err == nil {
		log.WithComponent("cas").Debug().Str("hash", digest).Msg("content already in CAS")
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create CAS shard dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create CAS temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write CAS temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("fsync CAS temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close CAS temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename CAS temp file into place: %w", err)
	}

	log.WithComponent("cas").Debug().Str("hash", digest).Int("bytes", len(content)).Msg("stored content in CAS")
	return digest, nil
}

// Retrieve reads content by digest, verifying it still hashes to digest.
func (s *Store) Retrieve(digest string) ([]byte, error) {
	path := s.PathFor(digest)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, conaryerr.Wrap(conaryerr.KindNotFound, fmt.Sprintf("content not found in CAS: %s", digest), err)
		}
		return nil, fmt.Errorf("read CAS object %s: %w", digest, err)
	}

	if got := s.ComputeHash(content); got != digest {
		return nil, conaryerr.New(conaryerr.KindDataCorrupt,
			fmt.Sprintf("hash mismatch for %s: computed %s", digest, got))
	}
	return content, nil
}

// StoreSymlink stores a symlink target as content, prefixed so Retrieve can
// tell symlink content apart from regular file content with the same bytes.
func (s *Store) StoreSymlink(target string) (string, error) {
	return s.Store([]byte(symlinkPrefix + target))
}

// ComputeSymlinkHash returns the digest StoreSymlink(target) would produce,
// without writing anything, so callers can plan against it.
func (s *Store) ComputeSymlinkHash(target string) string {
	return s.ComputeHash([]byte(symlinkPrefix + target))
}

// RetrieveSymlink returns the symlink target for digest, or ("", false) if
// digest does not represent a symlink.
func (s *Store) RetrieveSymlink(digest string) (string, bool, error) {
	content, err := s.Retrieve(digest)
	if err != nil {
		return "", false, err
	}
	target, ok := strings.CutPrefix(string(content), symlinkPrefix)
	return target, ok, nil
}

// IsSymlinkHash reports whether digest represents a symlink. Errors
// (including not-found) are treated as false.
func (s *Store) IsSymlinkHash(digest string) bool {
	_, ok, err := s.RetrieveSymlink(digest)
	return err == nil && ok
}

// HardlinkFromExisting adopts an existing regular file into the store by
// hardlinking rather than copying: zero extra disk space, no content I/O
// beyond the read needed to compute the hash. Falls back to a copy (via
// Store) when hardlinking fails, e.g. EXDEV across filesystems.
func (s *Store) HardlinkFromExisting(existingPath string) (string, error) {
	content, err := os.ReadFile(existingPath)
	if err != nil {
		return "", fmt.Errorf("read %s for CAS adoption: %w", existingPath, err)
	}
	digest := s.ComputeHash(content)
	return digest, s.hardlink(existingPath, digest, content)
}

// HardlinkFromExistingWithHash adopts existingPath using an already-known
// digest (e.g. from package metadata), skipping the read entirely when the
// digest is already present in the store. When verify is true and the
// object is not yet present, the file is still read once to confirm its
// content matches expectedDigest before linking.
func (s *Store) HardlinkFromExistingWithHash(existingPath, expectedDigest string, verify bool) (string, error) {
	path := s.PathFor(expectedDigest)
	if _, err := os.Stat(path); err == nil {
		log.WithComponent("cas").Debug().Str("hash", expectedDigest).Msg("content already in CAS, skipped hardlink")
		return expectedDigest, nil
	}

	var content []byte
	if verify {
		var err error
		content, err = os.ReadFile(existingPath)
		if err != nil {
			return "", fmt.Errorf("read %s to verify hash: %w", existingPath, err)
		}
		if got := s.ComputeHash(content); got != expectedDigest {
			return "", conaryerr.New(conaryerr.KindDataCorrupt,
				fmt.Sprintf("hash mismatch for %s: expected %s, got %s", existingPath, expectedDigest, got))
		}
	}

	if content == nil {
		var err error
		content, err = os.ReadFile(existingPath)
		if err != nil {
			return "", fmt.Errorf("read %s for CAS adoption: %w", existingPath, err)
		}
	}
	return expectedDigest, s.hardlink(existingPath, expectedDigest, content)
}

func (s *Store) hardlink(existingPath, digest string, contentForFallback []byte) error {
	path := s.PathFor(digest)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create CAS shard dir: %w", err)
	}

	if err := os.Link(existingPath, path); err != nil {
		log.WithComponent("cas").Debug().Err(err).Str("path", existingPath).Msg("hardlink into CAS failed, falling back to copy")
		if _, serr := s.Store(contentForFallback); serr != nil {
			return serr
		}
		return nil
	}
	log.WithComponent("cas").Debug().Str("hash", digest).Str("path", existingPath).Msg("hardlinked into CAS")
	return nil
}

// CopyFrom reads r to the end and stores its content. The whole content is
// buffered in memory before it is hashed and written.
func (s *Store) CopyFrom(r io.Reader) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read content to store: %w", err)
	}
	return s.Store(content)
}

// SweepResult tallies what Sweep removed.
type SweepResult struct {
	ObjectsRemoved int
	BytesFreed     int64
}

// Sweep deletes every object not named in referenced, the garbage collector
// behind `conary gc`. The caller builds referenced from every file's
// SHA256Hash across every installed trove, so the set should always be
// computed fresh, immediately before calling Sweep, to avoid racing an
// install that just staged new content.
func (s *Store) Sweep(referenced map[string]bool) (SweepResult, error) {
	var result SweepResult

	entries, err := os.ReadDir(s.objectsDir)
	if err != nil {
		return result, fmt.Errorf("read CAS objects dir: %w", err)
	}

	for _, prefixEntry := range entries {
		if !prefixEntry.IsDir() {
			continue
		}
		prefixDir := filepath.Join(s.objectsDir, prefixEntry.Name())
		objects, err := os.ReadDir(prefixDir)
		if err != nil {
			return result, fmt.Errorf("read CAS prefix dir %s: %w", prefixDir, err)
		}

		for _, obj := range objects {
			digest := prefixEntry.Name() + obj.Name()
			if referenced[digest] {
				continue
			}

			path := filepath.Join(prefixDir, obj.Name())
			info, err := obj.Info()
			if err != nil {
				return result, fmt.Errorf("stat CAS object %s: %w", path, err)
			}
			if err := os.Remove(path); err != nil {
				return result, fmt.Errorf("remove CAS object %s: %w", path, err)
			}
			result.ObjectsRemoved++
			result.BytesFreed += info.Size()
		}
	}

	return result, nil
}
