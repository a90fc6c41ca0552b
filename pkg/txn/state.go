package txn

// State is one phase of the transaction lifecycle:
//
//	New -> Planned -> Prepared -> PreScriptsComplete -> BackedUp -> Staged ->
//	FsApplied -> DbApplied -> PostScriptsComplete -> Done
//
// DbApplied is the point of no return: once the database transaction has
// committed, a crash can only be recovered by rolling forward, never by
// rolling back.
type State int

const (
	StateNew State = iota
	StatePlanned
	StatePrepared
	StatePreScriptsComplete
	StateBackedUp
	StateStaged
	StateFsApplied
	StateDbCommitIntent
	StateDbApplied
	StatePostScriptsComplete
	StateDone
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePlanned:
		return "planned"
	case StatePrepared:
		return "prepared"
	case StatePreScriptsComplete:
		return "pre_scripts_complete"
	case StateBackedUp:
		return "backed_up"
	case StateStaged:
		return "staged"
	case StateFsApplied:
		return "fs_applied"
	case StateDbCommitIntent:
		return "db_commit_intent"
	case StateDbApplied:
		return "db_applied"
	case StatePostScriptsComplete:
		return "post_scripts_complete"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsRecoverable reports whether this state is before the point of no
// return, meaning recovery may still roll back to a clean pre-transaction
// state instead of rolling forward. StateDbCommitIntent is deliberately
// excluded: whether it is safe to roll back depends on whether the
// metadata store's transaction actually committed, which only a DB lookup
// by transaction UUID can answer.
func (s State) IsRecoverable() bool {
	switch s {
	case StateNew, StatePlanned, StatePrepared, StatePreScriptsComplete, StateBackedUp, StateStaged, StateFsApplied:
		return true
	default:
		return false
	}
}

// ShouldRollForward reports whether recovery must complete the
// transaction forward rather than undo it, because the database has
// already committed the change.
func (s State) ShouldRollForward() bool {
	switch s {
	case StateDbApplied, StatePostScriptsComplete, StateDone:
		return true
	default:
		return false
	}
}

// IsAmbiguous reports whether resolving this state requires consulting the
// metadata store rather than the journal alone: the DbCommitIntent barrier
// was written, but there is no later record saying whether the database
// transaction it guards actually committed.
func (s State) IsAmbiguous() bool {
	return s == StateDbCommitIntent
}
