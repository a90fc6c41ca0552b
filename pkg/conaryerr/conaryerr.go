// Package conaryerr declares the typed error kinds shared by every Conary
// subsystem, so callers (the CLI, the daemon, tests) can distinguish failure
// classes with errors.Is instead of parsing messages.
package conaryerr

import "errors"

// Kind identifies a class of failure. The CLI maps Kind to an exit code.
type Kind int

const (
	// KindUnknown is the zero value; Wrap never produces it.
	KindUnknown Kind = iota
	// KindNotFound means the requested object does not exist (hash, trove, label).
	KindNotFound
	// KindDataCorrupt means stored content failed its integrity check.
	KindDataCorrupt
	// KindConflict means a requested operation is unsatisfiable against current state
	// (version constraints, capability clashes, dependency cycles).
	KindConflict
	// KindCancelled means the caller cancelled an in-flight operation.
	KindCancelled
	// KindTimeout means an operation (scriptlet, lock acquisition) exceeded its deadline.
	KindTimeout
	// KindRecoveryRequired means an interrupted transaction left the system in a
	// state that needs `conary verify`/recovery before further transactions can run.
	KindRecoveryRequired
	// KindUsage means the caller supplied invalid arguments.
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDataCorrupt:
		return "data_corrupt"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindRecoveryRequired:
		return "recovery_required"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error. It wraps an underlying cause so errors.Is/As
// and %w formatting keep working through the chain.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, conaryerr.NotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a *Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a *Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels usable with errors.Is(err, conaryerr.NotFound) as the target.
var (
	NotFound         = &Error{Kind: KindNotFound}
	DataCorrupt      = &Error{Kind: KindDataCorrupt}
	Conflict         = &Error{Kind: KindConflict}
	Cancelled        = &Error{Kind: KindCancelled}
	Timeout          = &Error{Kind: KindTimeout}
	RecoveryRequired = &Error{Kind: KindRecoveryRequired}
	Usage            = &Error{Kind: KindUsage}
)

// KindOf extracts the Kind from err, walking the wrap chain. Returns
// KindUnknown if err (or nothing in its chain) is a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps a Kind to the process exit code used by cmd/conary.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindConflict:
		return 3
	case KindCancelled:
		return 4
	case KindRecoveryRequired:
		return 5
	case KindUnknown:
		return 64
	default:
		return 64
	}
}
