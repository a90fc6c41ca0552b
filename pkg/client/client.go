package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/conarylabs/conary/pkg/jobqueue"
	"github.com/conarylabs/conary/pkg/storage"
)

// Client talks to conaryd's HTTP control surface. It is a thin wrapper
// around net/http: every call serializes a request, sends it, and decodes
// the JSON response into the matching Conary type.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client that talks to addr. addr is either host:port
// or a Unix socket path prefixed with "unix://". conaryd has no separate
// mTLS listener for the local CLI: unlike a cluster manager talking to
// remote workers, the daemon and its CLI run on the same machine and trust
// boundary, so the Unix socket's file permissions are the access control.
func NewClient(addr string) (*Client, error) {
	if socketPath, ok := unixSocketPath(addr); ok {
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		return &Client{baseURL: "http://unix", http: &http.Client{Transport: transport, Timeout: 30 * time.Second}}, nil
	}

	return &Client{baseURL: "http://" + addr, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

func unixSocketPath(addr string) (string, bool) {
	const prefix = "unix://"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return addr[len(prefix):], true
	}
	return "", false
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("conaryd unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = resp.Status
		}
		return &StatusError{Code: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is returned for any non-2xx response from conaryd.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("conaryd: %s (HTTP %d)", e.Message, e.Code)
}

type enqueueRequest struct {
	Kind           jobqueue.Kind     `json:"kind"`
	Spec           json.RawMessage   `json:"spec"`
	Priority       jobqueue.Priority `json:"priority"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// EnqueueOption customizes an EnqueueJob call.
type EnqueueOption func(*enqueueRequest)

// WithPriority sets the job's queue priority.
func WithPriority(p jobqueue.Priority) EnqueueOption {
	return func(r *enqueueRequest) { r.Priority = p }
}

// WithIdempotencyKey deduplicates retried requests against an in-flight or
// already-completed job carrying the same key.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(r *enqueueRequest) { r.IdempotencyKey = key }
}

// EnqueueJob submits a new job and returns it as accepted: StatusQueued,
// unless an idempotency key matched an existing job.
func (c *Client) EnqueueJob(ctx context.Context, kind jobqueue.Kind, spec interface{}, opts ...EnqueueOption) (*jobqueue.Job, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode job spec: %w", err)
	}

	req := enqueueRequest{Kind: kind, Spec: specJSON, Priority: jobqueue.PriorityNormal}
	for _, opt := range opts {
		opt(&req)
	}

	var job jobqueue.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a single job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*jobqueue.Job, error) {
	var job jobqueue.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, optionally filtered to a single status.
func (c *Client) ListJobs(ctx context.Context, status jobqueue.Status) ([]*jobqueue.Job, error) {
	path := "/v1/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var jobs []*jobqueue.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(id), nil, nil)
}

// WaitForJob polls a job until it reaches a terminal state or ctx is done.
func (c *Client) WaitForJob(ctx context.Context, id string, pollInterval time.Duration) (*jobqueue.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case jobqueue.StatusCompleted, jobqueue.StatusFailed, jobqueue.StatusCancelled:
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListTroves queries the metadata store's installed troves, optionally
// filtered by name.
func (c *Client) ListTroves(ctx context.Context, name string) ([]*storage.Trove, error) {
	path := "/v1/troves"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	var troves []*storage.Trove
	if err := c.do(ctx, http.MethodGet, path, nil, &troves); err != nil {
		return nil, err
	}
	return troves, nil
}

// ListTroveFiles fetches the file manifest of an installed trove, the input
// a remove job needs to build its RemoveSpec.
func (c *Client) ListTroveFiles(ctx context.Context, troveID int64) ([]*storage.File, error) {
	var files []*storage.File
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/troves/%d/files", troveID), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ReadyStatus mirrors pkg/api's ReadyResponse; duplicated here rather than
// imported so the client never depends on the server package.
type ReadyStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// Ready queries conaryd's /ready endpoint, which reports whether a prior
// crash left unresolved journal entries `conary verify` should investigate.
func (c *Client) Ready(ctx context.Context) (*ReadyStatus, error) {
	var status ReadyStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conaryd unreachable: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode ready response: %w", err)
	}
	return &status, nil
}
