// Package jobqueue persists the daemon's asynchronous operations (install,
// remove, update, garbage-collect) across restarts and serializes their
// execution with priority ordering, the same restart-safe queue conaryd's
// original daemon kept in its own SQL table, rebuilt here over BoltDB. The
// rest of conaryd's metadata is kept in pkg/storage's SQLite store.
package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the operation a job carries out.
type Kind string

const (
	KindInstall        Kind = "install"
	KindRemove         Kind = "remove"
	KindUpdate         Kind = "update"
	KindGarbageCollect Kind = "garbage_collect"
	KindRollback       Kind = "rollback"
)

// Status is a job's place in its lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Priority orders jobs within the queue; higher priorities are dequeued
// first, FIFO among jobs of equal priority.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Job is one persisted unit of work.
type Job struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Kind           Kind            `json:"kind"`
	Spec           json.RawMessage `json:"spec"`
	Priority       Priority        `json:"priority"`
	Status         Status          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	RequestedByUID *uint32         `json:"requested_by_uid,omitempty"`
	ClientInfo     string          `json:"client_info,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// New creates a queued job for kind with the given spec payload.
func New(kind Kind, spec json.RawMessage) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Spec:      spec,
		Priority:  PriorityNormal,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// WithIdempotencyKey sets the client-provided dedup key.
func (j *Job) WithIdempotencyKey(key string) *Job {
	j.IdempotencyKey = key
	return j
}

// WithPriority sets the job's queue priority.
func (j *Job) WithPriority(p Priority) *Job {
	j.Priority = p
	return j
}

// WithUID records the requesting user.
func (j *Job) WithUID(uid uint32) *Job {
	j.RequestedByUID = &uid
	return j
}

// WithClientInfo records a free-form client identifier.
func (j *Job) WithClientInfo(info string) *Job {
	j.ClientInfo = info
	return j
}
