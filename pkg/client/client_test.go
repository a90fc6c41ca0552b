package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/pkg/jobqueue"
)

func newTestClient(t *testing.T, mux http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &Client{baseURL: srv.URL, http: srv.Client()}
}

func TestEnqueueJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req enqueueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, jobqueue.KindInstall, req.Kind)
		assert.Equal(t, jobqueue.PriorityHigh, req.Priority)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(jobqueue.Job{ID: "job-1", Kind: req.Kind, Status: jobqueue.StatusQueued})
	})

	c := newTestClient(t, mux)
	job, err := c.EnqueueJob(context.Background(), jobqueue.KindInstall, map[string]string{"trove": "greeter"}, WithPriority(jobqueue.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, jobqueue.StatusQueued, job.Status)
}

func TestGetJobNotFoundReturnsStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "job missing not found"})
	})

	c := newTestClient(t, mux)
	_, err := c.GetJob(context.Background(), "missing")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestWaitForJobPollsUntilTerminal(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := jobqueue.StatusRunning
		if calls >= 3 {
			status = jobqueue.StatusCompleted
		}
		_ = json.NewEncoder(w).Encode(jobqueue.Job{ID: "job-1", Status: status})
	})

	c := newTestClient(t, mux)
	job, err := c.WaitForJob(context.Background(), "job-1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusCompleted, job.Status)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestCancelJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux)
	require.NoError(t, c.CancelJob(context.Background(), "job-1"))
}

func TestListTroveFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/troves/7/files", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode([]map[string]any{{"Path": "/usr/bin/curl"}})
	})

	c := newTestClient(t, mux)
	files, err := c.ListTroveFiles(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/usr/bin/curl", files[0].Path)
}

func TestReadyReportsNotReadyBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ReadyStatus{Status: "not ready", Checks: map[string]string{"recovery": "1 transaction(s) need attention"}})
	})

	c := newTestClient(t, mux)
	status, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not ready", status.Status)
	assert.Equal(t, "1 transaction(s) need attention", status.Checks["recovery"])
}

func TestUnixSocketPath(t *testing.T) {
	path, ok := unixSocketPath("unix:///run/conaryd.sock")
	require.True(t, ok)
	assert.Equal(t, "/run/conaryd.sock", path)

	_, ok = unixSocketPath("localhost:8080")
	assert.False(t, ok)
}
