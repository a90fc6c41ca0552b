package txn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/storage"
)

const defaultTriggerTimeout = 30 * time.Second

// TriggerExecutor records which triggers a changeset's files matched and
// runs them in dependency order, deduplicated so a trigger fires once per
// changeset no matter how many of its matched files were touched.
type TriggerExecutor struct {
	store   storage.Store
	root    string
	timeout time.Duration
	dryRun  bool
}

// NewTriggerExecutor creates an executor against store, rooted at root.
func NewTriggerExecutor(store storage.Store, root string) *TriggerExecutor {
	return &TriggerExecutor{store: store, root: root, timeout: defaultTriggerTimeout}
}

// WithTimeout overrides the default per-trigger timeout.
func (e *TriggerExecutor) WithTimeout(d time.Duration) *TriggerExecutor {
	e.timeout = d
	return e
}

// WithDryRun, when true, logs what would run without executing anything.
func (e *TriggerExecutor) WithDryRun(dryRun bool) *TriggerExecutor {
	e.dryRun = dryRun
	return e
}

func (e *TriggerExecutor) isLiveRoot() bool {
	return e.root == "" || e.root == "/"
}

// RecordMatches finds every enabled trigger whose pattern matches any of
// paths and records it pending against changesetID.
func (e *TriggerExecutor) RecordMatches(ctx context.Context, changesetID int64, paths []string) error {
	triggers, err := e.store.ListEnabledTriggers(ctx)
	if err != nil {
		return fmt.Errorf("list enabled triggers: %w", err)
	}

	var matched []*storage.Trigger
	matchedCount := make(map[int64]int)
	for _, t := range triggers {
		count := 0
		for _, p := range paths {
			if matchesPattern(t.Pattern, p) {
				count++
			}
		}
		if count > 0 {
			matched = append(matched, t)
			matchedCount[t.ID] = count
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return e.store.RecordChangesetTriggers(ctx, changesetID, matched, matchedCount)
}

// matchesPattern reports whether p matches any of pattern's comma-separated
// glob sub-patterns (triggers.pattern stores several alternatives, e.g.
// "/usr/lib/*.so*,/usr/lib64/*.so*").
func matchesPattern(pattern, p string) bool {
	for _, sub := range strings.Split(pattern, ",") {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		if ok, err := filepath.Match(sub, p); err == nil && ok {
			return true
		}
	}
	return false
}

// ExecutePending runs every trigger still pending for changesetID, in
// dependency order, and reports the outcome tally.
func (e *TriggerExecutor) ExecutePending(ctx context.Context, changesetID int64) (TriggerResults, error) {
	logger := log.WithComponent("txn")

	triggers, err := e.store.PendingChangesetTriggers(ctx, changesetID)
	if err != nil {
		return TriggerResults{}, fmt.Errorf("list pending triggers: %w", err)
	}
	if len(triggers) == 0 {
		return TriggerResults{}, nil
	}

	logger.Info().Int("count", len(triggers)).Int64("changeset_id", changesetID).Msg("executing triggers")

	var results TriggerResults
	for _, t := range triggers {
		handlerCmd := firstField(t.Handler)

		var handlerOK bool
		if e.isLiveRoot() {
			handlerOK = handlerExists(handlerCmd)
		} else {
			handlerOK = handlerExistsInRoot(handlerCmd, e.root)
		}

		if e.dryRun {
			logger.Info().Str("trigger", t.Name).Msg("[dry-run] would execute trigger")
			results.Skipped++
			continue
		}

		if !handlerOK {
			logger.Info().Str("trigger", t.Name).Str("handler", handlerCmd).Msg("skipping trigger: handler not found")
			_ = e.store.MarkChangesetTriggerCompleted(ctx, changesetID, t.ID, "skipped: handler not found")
			results.Skipped++
			continue
		}

		if err := e.store.MarkChangesetTriggerRunning(ctx, changesetID, t.ID); err != nil {
			return results, err
		}

		output, runErr := e.execute(ctx, t)
		if runErr != nil {
			logger.Warn().Str("trigger", t.Name).Err(runErr).Msg("trigger failed")
			_ = e.store.MarkChangesetTriggerFailed(ctx, changesetID, t.ID, runErr.Error())
			results.Failed++
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %v", t.Name, runErr))
			continue
		}

		_ = e.store.MarkChangesetTriggerCompleted(ctx, changesetID, t.ID, output)
		results.Succeeded++
	}
	return results, nil
}

func (e *TriggerExecutor) execute(ctx context.Context, t *storage.Trigger) (string, error) {
	fields := strings.Fields(t.Handler)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty handler command")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if e.isLiveRoot() {
		cmd = exec.CommandContext(runCtx, fields[0], fields[1:]...)
	} else {
		args := append([]string{e.root}, fields...)
		cmd = exec.CommandContext(runCtx, "chroot", args...)
	}
	cmd.Env = append(os.Environ(), "CONARY_TRIGGER_NAME="+t.Name, "CONARY_ROOT="+e.root)

	output, err := cmd.CombinedOutput()
	if runCtx.Err() != nil {
		return "", fmt.Errorf("handler %q timed out after %s", fields[0], e.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("handler %q failed: %w: %s", fields[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// handlerExists reports whether cmd is runnable on the live root: an
// absolute path must exist, a bare name must resolve via PATH.
func handlerExists(cmd string) bool {
	if cmd == "" {
		return false
	}
	if strings.HasPrefix(cmd, "/") {
		_, err := os.Stat(cmd)
		return err == nil
	}
	_, err := exec.LookPath(cmd)
	return err == nil
}

// handlerExistsInRoot reports whether cmd is runnable once chrooted into
// root: an absolute path is checked under root, a bare name is looked up
// in root's common bin directories.
func handlerExistsInRoot(cmd, root string) bool {
	if cmd == "" {
		return false
	}
	if strings.HasPrefix(cmd, "/") {
		_, err := os.Stat(filepath.Join(root, strings.TrimPrefix(cmd, "/")))
		return err == nil
	}
	for _, dir := range []string{"usr/bin", "usr/sbin", "bin", "sbin", "usr/local/bin", "usr/local/sbin"} {
		if _, err := os.Stat(filepath.Join(root, dir, cmd)); err == nil {
			return true
		}
	}
	return false
}

// TriggerResults tallies the outcome of one ExecutePending call.
type TriggerResults struct {
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []string
}

// AllSucceeded reports whether no trigger failed.
func (r TriggerResults) AllSucceeded() bool { return r.Failed == 0 }

// Total returns the number of triggers processed.
func (r TriggerResults) Total() int { return r.Succeeded + r.Failed + r.Skipped }
