package jobqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/log"
)

var (
	bucketJobs        = []byte("jobs")
	bucketIdempotency = []byte("idempotency")
	bucketQueueOrder  = []byte("queue_order")
)

// Queue is a restart-safe, priority-ordered job queue backed by BoltDB.
// Jobs execute serially; the queue only decides what runs next, not how.
type Queue struct {
	db *bolt.DB

	mu         sync.Mutex
	cancels    map[string]context.CancelFunc
	currentJob string
}

// Open creates or reopens a job queue database under dataDir.
func Open(dataDir string) (*Queue, error) {
	dbPath := filepath.Join(dataDir, "jobqueue.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open job queue database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketIdempotency, bucketQueueOrder} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Queue{db: db, cancels: make(map[string]context.CancelFunc)}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// queueKey orders queue_order entries so higher priority sorts first and
// jobs of equal priority stay FIFO, using a bucket-local monotonic sequence
// for the FIFO tiebreak.
func queueKey(priority Priority, seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = byte(PriorityHigh - priority)
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// Enqueue persists job and schedules it for execution.
//
// If job.IdempotencyKey is set and already in use, Enqueue returns the
// existing job instead of creating a duplicate (mirroring the UNIQUE
// constraint the original daemon relied on).
func (q *Queue) Enqueue(job *Job) (*Job, error) {
	if job.IdempotencyKey != "" {
		if existing, err := q.GetByIdempotencyKey(job.IdempotencyKey); err == nil {
			return existing, nil
		} else if conaryerr.KindOf(err) != conaryerr.KindNotFound {
			return nil, err
		}
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		idem := tx.Bucket(bucketIdempotency)
		order := tx.Bucket(bucketQueueOrder)

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(job.ID), data); err != nil {
			return err
		}
		if job.IdempotencyKey != "" {
			if err := idem.Put([]byte(job.IdempotencyKey), []byte(job.ID)); err != nil {
				return err
			}
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		return order.Put(queueKey(job.Priority, seq), []byte(job.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	log.WithComponent("jobqueue").Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("job enqueued")
	return job, nil
}

// Dequeue pops the highest-priority, oldest-queued job, marks it current
// and returns a context a worker should run it under. Cancel(id) cancels
// that context. Returns (nil, nil, false, nil) if the queue is empty.
func (q *Queue) Dequeue() (*Job, context.Context, bool, error) {
	var job Job
	found := false

	err := q.db.Update(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketQueueOrder)
		jobs := tx.Bucket(bucketJobs)

		c := order.Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		found = true

		data := jobs.Get(v)
		if data == nil {
			return order.Delete(k)
		}
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		return order.Delete(k)
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("dequeue job: %w", err)
	}
	if !found {
		return nil, nil, false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.currentJob = job.ID
	q.cancels[job.ID] = cancel
	q.mu.Unlock()

	return &job, ctx, true, nil
}

// Get fetches a job by ID.
func (q *Queue) Get(id string) (*Job, error) {
	var job Job
	var data []byte
	err := q.db.View(func(tx *bolt.Tx) error {
		data = tx.Bucket(bucketJobs).Get([]byte(id))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, conaryerr.New(conaryerr.KindNotFound, fmt.Sprintf("job %s not found", id))
	}
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// GetByIdempotencyKey fetches the job previously enqueued with key, if any.
func (q *Queue) GetByIdempotencyKey(key string) (*Job, error) {
	var id []byte
	err := q.db.View(func(tx *bolt.Tx) error {
		id = tx.Bucket(bucketIdempotency).Get([]byte(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, conaryerr.New(conaryerr.KindNotFound, fmt.Sprintf("idempotency key %q not found", key))
	}
	return q.Get(string(id))
}

func (q *Queue) save(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

// UpdateStatus transitions job id to status, stamping started_at/completed_at
// as appropriate.
func (q *Queue) UpdateStatus(id string, status Status) error {
	job, err := q.Get(id)
	if err != nil {
		return err
	}
	job.Status = status
	now := time.Now().UTC()
	switch status {
	case StatusRunning:
		job.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		job.CompletedAt = &now
		q.mu.Lock()
		delete(q.cancels, id)
		if q.currentJob == id {
			q.currentJob = ""
		}
		q.mu.Unlock()
	}
	return q.save(job)
}

// SetResult records a completed job's output payload.
func (q *Queue) SetResult(id string, result json.RawMessage) error {
	job, err := q.Get(id)
	if err != nil {
		return err
	}
	job.Result = result
	return q.save(job)
}

// SetError records a failed job's error message.
func (q *Queue) SetError(id string, jobErr error) error {
	job, err := q.Get(id)
	if err != nil {
		return err
	}
	job.Error = jobErr.Error()
	return q.save(job)
}

// ListByStatus returns every job currently in status, most recently created
// first (the order of ListAll).
func (q *Queue) ListByStatus(status Status) ([]*Job, error) {
	all, err := q.ListAll(0)
	if err != nil {
		return nil, err
	}
	var matched []*Job
	for _, j := range all {
		if j.Status == status {
			matched = append(matched, j)
		}
	}
	return matched, nil
}

// ListAll returns every job, most recently created first. limit of 0 means
// unbounded.
func (q *Queue) ListAll(limit int) ([]*Job, error) {
	var all []*Job
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			all = append(all, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	sortByCreatedAtDesc(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortByCreatedAtDesc(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j-1].CreatedAt.Before(jobs[j].CreatedAt); j-- {
			jobs[j-1], jobs[j] = jobs[j], jobs[j-1]
		}
	}
}

// CleanupOld deletes completed/failed/cancelled jobs older than olderThan.
func (q *Queue) CleanupOld(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0

	err := q.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		idem := tx.Bucket(bucketIdempotency)
		c := jobs.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			terminal := job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled
			if terminal && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte(nil), k...))
				if job.IdempotencyKey != "" {
					_ = idem.Delete([]byte(job.IdempotencyKey))
				}
			}
		}
		for _, k := range toDelete {
			if err := jobs.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Len returns the number of jobs still waiting to run.
func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketQueueOrder).Stats().KeyN
		return nil
	})
	return n, err
}

// Position returns id's 0-based position in the pending queue, or -1 if it
// isn't queued (already running, finished, or unknown).
func (q *Queue) Position(id string) (int, error) {
	pos := -1
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueueOrder).Cursor()
		i := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				pos = i
				return nil
			}
			i++
		}
		return nil
	})
	return pos, err
}

// Cancel requests cancellation of a running job, or removes it from the
// queue if it hasn't started yet. Returns false if id is neither running
// nor queued.
func (q *Queue) Cancel(id string) (bool, error) {
	q.mu.Lock()
	isCurrent := q.currentJob == id
	cancel, hasToken := q.cancels[id]
	q.mu.Unlock()

	if isCurrent && hasToken {
		cancel()
		return true, nil
	}

	removed := false
	err := q.db.Update(func(tx *bolt.Tx) error {
		order := tx.Bucket(bucketQueueOrder)
		c := order.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				removed = true
				return order.Delete(k)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		if err := q.UpdateStatus(id, StatusCancelled); err != nil {
			return false, err
		}
		q.mu.Lock()
		delete(q.cancels, id)
		q.mu.Unlock()
	}
	return removed, nil
}
