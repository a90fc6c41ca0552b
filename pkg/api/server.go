package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conarylabs/conary/pkg/conaryerr"
	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/log"
	"github.com/conarylabs/conary/pkg/metrics"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/txn"
)

// Server is conaryd's HTTP control surface: it enqueues jobs, reports their
// status, and answers read-only queries against the metadata store. It
// never runs a transaction inline — that is the worker goroutine's job.
type Server struct {
	engine *txn.Engine
	store  storage.Store
	queue  *jobqueue.Queue
	mux    *http.ServeMux
	http   *http.Server

	cancelWorker context.CancelFunc
	lastRecovery []txn.RecoveryOutcome
}

// NewServer wires an HTTP server around an already-initialized transaction
// engine, metadata store, and job queue.
func NewServer(engine *txn.Engine, store storage.Store, queue *jobqueue.Queue) *Server {
	s := &Server{engine: engine, store: store, queue: queue, mux: http.NewServeMux()}

	s.mux.HandleFunc("/v1/jobs", s.handleJobs)
	s.mux.HandleFunc("/v1/jobs/", s.handleJob)
	s.mux.HandleFunc("/v1/troves", s.handleTroves)
	s.mux.HandleFunc("/v1/troves/", s.handleTroveFiles)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start recovers any journal entries left by a previous crash, then runs
// the worker loop and serves addr until Stop is called.
func (s *Server) Start(addr string) error {
	outcomes, err := s.engine.Recover(context.Background())
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	s.lastRecovery = outcomes
	for _, o := range outcomes {
		log.WithComponent("api").Info().Str("tx_uuid", o.TxUUID).Str("action", o.Action).Msg("recovered transaction")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelWorker = cancel
	go (&worker{engine: s.engine, store: s.store, queue: s.queue}).run(workerCtx)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithComponent("api").Info().Str("addr", addr).Msg("daemon listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down and stops the worker loop.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancelWorker != nil {
		s.cancelWorker()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests and for embedding under ReadOnlyMiddleware.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.enqueueJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		methodNotAllowed(w)
	}
}

type enqueueRequest struct {
	Kind           jobqueue.Kind   `json:"kind"`
	Spec           json.RawMessage `json:"spec"`
	Priority       jobqueue.Priority `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("kind is required"))
		return
	}

	job := jobqueue.New(req.Kind, req.Spec).WithPriority(req.Priority)
	if req.IdempotencyKey != "" {
		job = job.WithIdempotencyKey(req.IdempotencyKey)
	}

	saved, err := s.queue.Enqueue(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, saved)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := jobqueue.Status(r.URL.Query().Get("status"))
	if status != "" {
		jobs, err := s.queue.ListByStatus(status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
		return
	}

	jobs, err := s.queue.ListAll(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.queue.Get(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		ok, err := s.queue.Cancel(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("job %s is not queued or running", id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTroves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	ctx := r.Context()
	name := r.URL.Query().Get("name")

	if name != "" {
		troves, err := s.store.ListTrovesByName(ctx, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, troves)
		return
	}

	troves, err := s.store.ListTroves(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, troves)
}

// handleTroveFiles serves GET /v1/troves/{id}/files, the file manifest a
// remove job needs before it can build a RemoveSpec.
func (s *Server) handleTroveFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/troves/")
	id, ok := strings.CutSuffix(rest, "/files")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}

	troveID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid trove id %q", id))
		return
	}

	files, err := s.store.ListFilesByTrove(r.Context(), troveID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{err.Error()})
}

// writeStoreError maps conaryerr.Kind to an HTTP status the way spec.md's
// CLI exit codes map Kind to a process exit code.
func writeStoreError(w http.ResponseWriter, err error) {
	switch conaryerr.KindOf(err) {
	case conaryerr.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case conaryerr.KindConflict:
		writeError(w, http.StatusConflict, err)
	case conaryerr.KindTimeout:
		writeError(w, http.StatusGatewayTimeout, err)
	case conaryerr.KindUsage:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
