package txn

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/conarylabs/conary/pkg/conaryerr"
)

const lockMaxRetries = 5

// acquireLock takes an exclusive advisory lock on path, retrying with
// exponential backoff (0ms, 100ms, 200ms, 400ms, 800ms — about 1.5s total)
// before giving up. A held lock almost always means another transaction is
// in flight; exhausting retries more often means a previous process
// crashed without releasing it, which is why the error mentions both.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	var lockErr error
	for attempt := 0; attempt < lockMaxRetries; attempt++ {
		lockErr = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if lockErr == nil {
			return f, nil
		}
		if attempt < lockMaxRetries-1 {
			time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
		}
	}

	f.Close()
	return nil, conaryerr.Wrap(conaryerr.KindConflict,
		fmt.Sprintf("failed to acquire transaction lock after %d retries: another transaction may be in progress, "+
			"or a previous transaction crashed without releasing the lock", lockMaxRetries), lockErr)
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
