// Package testutil provides a scripted Redash server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Redash job status codes.
const (
	StatusQueued    = 1
	StatusStarted   = 2
	StatusFinished  = 3
	StatusFailed    = 4
	StatusCancelled = 5
)

// QueryResult is what a scripted query returns for one submission.
type QueryResult struct {
	// Statuses are served by successive job polls. The last one repeats.
	// Empty means the job is finished on the first poll.
	Statuses []int

	// JobError is reported for failed or cancelled jobs.
	JobError string

	// Columns and Rows form the materialized result.
	Columns []string
	Rows    []map[string]any

	// SubmitStatus, FetchStatus override the HTTP status of the submit and
	// result calls. Zero means 200.
	SubmitStatus int
	FetchStatus  int
}

// QueryFunc scripts a query. It receives the submitted parameters and the
// 1-based submission count for that query.
type QueryFunc func(params map[string]any, submission int) QueryResult

// RecordedRequest is a request seen by the mock.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Body          map[string]any
}

type job struct {
	result QueryResult
	polls  int
}

// MockRedash is a scripted mock of the Redash query API.
type MockRedash struct {
	server *httptest.Server

	mu          sync.Mutex
	queries     map[string]QueryFunc
	submissions map[string]int
	jobs        map[string]*job
	results     map[string]QueryResult
	requests    []RecordedRequest
	nextID      int
}

// NewMockRedash starts a mock Redash server.
func NewMockRedash() *MockRedash {
	m := &MockRedash{
		queries:     make(map[string]QueryFunc),
		submissions: make(map[string]int),
		jobs:        make(map[string]*job),
		results:     make(map[string]QueryResult),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the API base URL of the mock.
func (m *MockRedash) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRedash) Close() {
	m.server.Close()
}

// SetQuery scripts the behavior of a query id.
func (m *MockRedash) SetQuery(queryID string, fn QueryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[queryID] = fn
}

// SetStaticQuery scripts a query that always returns res.
func (m *MockRedash) SetStaticQuery(queryID string, res QueryResult) {
	m.SetQuery(queryID, func(map[string]any, int) QueryResult { return res })
}

// Requests returns a copy of every request received so far.
func (m *MockRedash) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// Submissions returns the submit requests made for queryID, in order.
func (m *MockRedash) Submissions(queryID string) []RecordedRequest {
	path := "/queries/" + queryID + "/results"
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == http.MethodPost && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of requests whose path starts with prefix.
func (m *MockRedash) Count(prefix string) int {
	n := 0
	for _, r := range m.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

func (m *MockRedash) handle(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
	}
	if r.Body != nil && r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	m.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "queries" && parts[2] == "results":
		m.submit(w, parts[1], rec.Body)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "jobs":
		m.poll(w, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "query_results":
		m.result(w, parts[1])
	default:
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}
}

func (m *MockRedash) submit(w http.ResponseWriter, queryID string, body map[string]any) {
	m.mu.Lock()
	fn, ok := m.queries[queryID]
	if !ok {
		m.mu.Unlock()
		http.Error(w, `{"message":"Query not found"}`, http.StatusNotFound)
		return
	}
	m.submissions[queryID]++
	n := m.submissions[queryID]
	m.mu.Unlock()

	params, _ := body["parameters"].(map[string]any)
	res := fn(params, n)

	if res.SubmitStatus != 0 && res.SubmitStatus != http.StatusOK {
		http.Error(w, `{"message":"submit rejected"}`, res.SubmitStatus)
		return
	}

	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("job-%d", m.nextID)
	m.jobs[id] = &job{result: res}
	m.mu.Unlock()

	writeJSON(w, map[string]any{"job": map[string]any{"id": id, "status": StatusQueued}})
}

func (m *MockRedash) poll(w http.ResponseWriter, jobID string) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		http.Error(w, `{"message":"job not found"}`, http.StatusNotFound)
		return
	}

	status := StatusFinished
	if len(j.result.Statuses) > 0 {
		idx := j.polls
		if idx >= len(j.result.Statuses) {
			idx = len(j.result.Statuses) - 1
		}
		status = j.result.Statuses[idx]
	}
	j.polls++

	payload := map[string]any{"id": jobID, "status": status}
	switch status {
	case StatusFinished:
		resultID := "result-" + strings.TrimPrefix(jobID, "job-")
		m.results[resultID] = j.result
		payload["query_result_id"] = resultID
	case StatusFailed, StatusCancelled:
		payload["error"] = j.result.JobError
	}
	m.mu.Unlock()

	writeJSON(w, map[string]any{"job": payload})
}

func (m *MockRedash) result(w http.ResponseWriter, resultID string) {
	m.mu.Lock()
	res, ok := m.results[resultID]
	m.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"result not found"}`, http.StatusNotFound)
		return
	}
	if res.FetchStatus != 0 && res.FetchStatus != http.StatusOK {
		http.Error(w, `{"message":"fetch failed"}`, res.FetchStatus)
		return
	}

	columns := make([]map[string]any, len(res.Columns))
	for i, name := range res.Columns {
		columns[i] = map[string]any{"name": name, "friendly_name": name, "type": nil}
	}
	rows := res.Rows
	if rows == nil {
		rows = []map[string]any{}
	}

	writeJSON(w, map[string]any{
		"query_result": map[string]any{
			"id": resultID,
			"data": map[string]any{
				"columns": columns,
				"rows":    rows,
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
