package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/conarylabs/conary/pkg/txn"
)

// HealthResponse is the /health liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleHealth is a liveness check: 200 if the process can answer at all.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// handleReady checks that the metadata store is reachable and that startup
// recovery left no transaction needing attention before declaring the
// daemon ready to accept jobs.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if _, err := s.store.ListTroves(r.Context()); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		message = "metadata store not accessible"
	} else {
		checks["storage"] = "ok"
	}

	if failed := failedRecoveries(s.lastRecovery); len(failed) > 0 {
		checks["recovery"] = fmt.Sprintf("%d transaction(s) need attention", len(failed))
		ready = false
		if message == "" {
			message = "unresolved journal entries from a previous crash"
		}
	} else {
		checks["recovery"] = "clean"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, ReadyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}

func failedRecoveries(outcomes []txn.RecoveryOutcome) []txn.RecoveryOutcome {
	var failed []txn.RecoveryOutcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
