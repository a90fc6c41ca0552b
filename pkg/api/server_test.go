package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/storage"
	"github.com/conarylabs/conary/pkg/txn"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dataDir := t.TempDir()

	store, err := storage.NewSQLiteStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	engine, err := txn.New(txn.NewConfig(root, filepath.Join(dataDir, "conary.db")), store)
	require.NoError(t, err)

	queue, err := jobqueue.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	return NewServer(engine, store, queue)
}

func TestEnqueueAndGetJob(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(enqueueRequest{Kind: jobqueue.KindInstall, Spec: json.RawMessage(`{"trove":"greeter"}`)})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var job jobqueue.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))
	assert.Equal(t, jobqueue.StatusQueued, job.Status)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var fetched jobqueue.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fetched))
	assert.Equal(t, job.ID, fetched.ID)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueRejectsMissingKind(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelJobEndpoint(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(enqueueRequest{Kind: jobqueue.KindRemove, Spec: json.RawMessage(`{}`)})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body)))
	var job jobqueue.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+job.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil))
	var cancelled jobqueue.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cancelled))
	assert.Equal(t, jobqueue.StatusCancelled, cancelled.Status)
}

func TestListTrovesEmpty(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/troves", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var troves []*storage.Trove
	require.NoError(t, json.NewDecoder(w.Body).Decode(&troves))
	assert.Empty(t, troves)
}

func TestTroveFilesEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	troveID, err := s.store.CreateTrove(ctx, &storage.Trove{Name: "curl", Version: "8.9.1", Architecture: "x86_64", Type: "package"})
	require.NoError(t, err)
	_, err = s.store.CreateFile(ctx, &storage.File{Path: "/usr/bin/curl", SHA256Hash: "deadbeef", Size: 4, Permissions: 0755, TroveID: troveID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/troves/%d/files", troveID), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var files []*storage.File
	require.NoError(t, json.NewDecoder(w.Body).Decode(&files))
	require.Len(t, files, 1)
	assert.Equal(t, "/usr/bin/curl", files[0].Path)
}

func TestTroveFilesEndpointBadID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/troves/not-a-number/files", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadOnlyMiddlewareBlocksWrites(t *testing.T) {
	s := newTestServer(t)
	readOnly := ReadOnlyMiddleware(s.Handler())

	w := httptest.NewRecorder()
	readOnly.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/troves", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	body, _ := json.Marshal(enqueueRequest{Kind: jobqueue.KindInstall})
	readOnly.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
