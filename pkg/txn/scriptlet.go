package txn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/log"
)

// defaultScriptletTimeout bounds how long a single scriptlet may run before
// it is killed, the same default original packaging systems use so a
// hanging postinstall script cannot wedge an upgrade.
const defaultScriptletTimeout = 30 * time.Second

// ScriptletRunner executes a package's pre/post install/remove scriptlets,
// optionally inside a chroot when installing to a non-live root.
type ScriptletRunner struct {
	root    string
	timeout time.Duration
	dryRun  bool
}

// NewScriptletRunner creates a runner rooted at root (the transaction's
// target filesystem root).
func NewScriptletRunner(root string) *ScriptletRunner {
	return &ScriptletRunner{root: root, timeout: defaultScriptletTimeout}
}

// WithTimeout overrides the default per-scriptlet timeout.
func (r *ScriptletRunner) WithTimeout(d time.Duration) *ScriptletRunner {
	r.timeout = d
	return r
}

// WithDryRun, when true, logs what would run without executing anything.
func (r *ScriptletRunner) WithDryRun(dryRun bool) *ScriptletRunner {
	r.dryRun = dryRun
	return r
}

func (r *ScriptletRunner) isLiveRoot() bool {
	return r.root == "" || r.root == "/"
}

// RunPhase runs every scriptlet matching phase, in the order supplied.
func (r *ScriptletRunner) RunPhase(ctx context.Context, phase string, scriptlets []ScriptletSpec) error {
	logger := log.WithComponent("txn")
	for _, s := range scriptlets {
		if s.Phase != phase {
			continue
		}
		if r.dryRun {
			logger.Info().Str("phase", phase).Msg("[dry-run] would execute scriptlet")
			continue
		}
		if err := r.run(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *ScriptletRunner) run(ctx context.Context, s ScriptletSpec) error {
	interpreter := s.Interpreter
	if interpreter == "" {
		interpreter = "/bin/sh"
	}

	scriptFile, err := os.CreateTemp("", "conary-scriptlet-*")
	if err != nil {
		return fmt.Errorf("create scriptlet temp file: %w", err)
	}
	defer os.Remove(scriptFile.Name())

	if _, err := scriptFile.WriteString(s.Content); err != nil {
		scriptFile.Close()
		return fmt.Errorf("write scriptlet content: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		return fmt.Errorf("close scriptlet temp file: %w", err)
	}
	if err := os.Chmod(scriptFile.Name(), 0o700); err != nil {
		return fmt.Errorf("make scriptlet executable: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	scriptPath := scriptFile.Name()
	if r.isLiveRoot() {
		cmd = exec.CommandContext(runCtx, interpreter, scriptPath)
	} else {
		// Scripts run inside the target root via chroot, so the script
		// must be visible there; drop it into the target's tmp directory.
		targetScript := filepath.Join(r.root, "tmp", filepath.Base(scriptPath))
		if err := os.Rename(scriptPath, targetScript); err != nil {
			return fmt.Errorf("stage scriptlet into target root: %w", err)
		}
		defer os.Remove(targetScript)
		cmd = exec.CommandContext(runCtx, "chroot", r.root, interpreter, filepath.Join("/tmp", filepath.Base(scriptPath)))
	}

	cmd.Env = append(os.Environ(), "CONARY_ROOT="+r.root)
	output, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return conaryerr.New(conaryerr.KindTimeout,
			fmt.Sprintf("scriptlet timed out after %s", r.timeout))
	}
	if err != nil {
		var exitErr *exec.ExitError
		code := -1
		if ok := asExitError(err, &exitErr); ok {
			code = exitErr.ExitCode()
		}
		return conaryerr.Wrap(conaryerr.KindConflict,
			fmt.Sprintf("scriptlet exited %d: %s", code, string(output)), err)
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}
