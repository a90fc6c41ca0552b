package txn

import "context"

// ProgressFunc receives progress updates during a long-running phase
// (backup, stage, apply). current/total are operation counts, not bytes.
type ProgressFunc func(current, total uint64, message string)

// checkCancelled returns a Cancelled error if ctx has been cancelled,
// naming the phase that was interrupted.
func checkCancelled(ctx context.Context, phase string) error {
	select {
	case <-ctx.Done():
		return cancelledError(phase)
	default:
		return nil
	}
}

func reportProgress(progress ProgressFunc, current, total uint64, message string) {
	if progress != nil {
		progress(current, total, message)
	}
}
