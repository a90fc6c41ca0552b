package txn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/log"
)

// moveFileAtomic moves src to dst, falling back to copy+fsync+remove when
// rename fails with EXDEV (source and destination on different
// filesystems, e.g. staging under /var and a target root under /usr).
func moveFileAtomic(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}

	log.WithComponent("txn").Debug().Str("src", src).Str("dst", dst).
		Msg("cross-filesystem move detected, using copy fallback")

	if err := copyFile(src, dst); err != nil {
		return err
	}

	f, err := os.Open(dst)
	if err != nil {
		return fmt.Errorf("reopen %s to fsync: %w", dst, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %w", dst, err)
	}
	f.Close()

	// Best-effort: fsync the parent directory so the new entry survives a
	// crash. Not all filesystems support fsync on a directory descriptor.
	if dir, err := os.Open(filepath.Dir(dst)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source %s after cross-filesystem move: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s to copy: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s to copy into: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// safeJoin joins root with an absolute path p. p is cleaned against "/"
// first, so ".." components stop at root instead of escaping it; a result
// that still falls outside root is rejected with a usage error.
func safeJoin(root, p string) (string, error) {
	clean := filepath.Clean("/" + p)
	joined := filepath.Join(root, clean)

	rootClean := filepath.Clean(root)
	if joined != rootClean && !strings.HasPrefix(joined, rootClean+string(filepath.Separator)) {
		return "", conaryerr.New(conaryerr.KindUsage, fmt.Sprintf("path escapes root: %s", p))
	}
	return joined, nil
}
