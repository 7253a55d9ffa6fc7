package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/redash-extract/pkg/retry"
)

// JobStatus is the state code the engine reports for a job.
type JobStatus int

const (
	JobQueued    JobStatus = 1
	JobStarted   JobStatus = 2
	JobFinished  JobStatus = 3
	JobFailed    JobStatus = 4
	JobCancelled JobStatus = 5
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobStarted:
		return "started"
	case JobFinished:
		return "finished"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Phase is the caller-facing meaning of a job status.
type Phase int

const (
	// PhasePending covers queued and started jobs.
	PhasePending Phase = iota
	// PhaseReady means the result can be fetched.
	PhaseReady
	// PhaseFailed covers every other status.
	PhaseFailed
)

// JobState is the outcome of a single status poll.
type JobState struct {
	Phase  Phase
	Status JobStatus

	// ResultID is set when Phase is PhaseReady.
	ResultID string

	// Err is set when Phase is PhaseFailed.
	Err error
}

// Pending reports whether the job has not finished yet.
func (s JobState) Pending() bool {
	return s.Phase == PhasePending
}

type submitRequest struct {
	MaxAge     int    `json:"max_age"`
	Parameters Params `json:"parameters"`
}

type jobResponse struct {
	Job *struct {
		ID            any        `json:"id"`
		Status        *JobStatus `json:"status"`
		QueryResultID any        `json:"query_result_id"`
		Error         string     `json:"error"`
	} `json:"job"`
}

// Submit asks the engine to recompute queryID with params, bypassing its
// result cache, and returns the job id. Failures are retried with the submit
// policy.
func (c *Client) Submit(ctx context.Context, queryID QueryID, params Params) (string, error) {
	return retry.DoValue(ctx, c.config.Submit, func(ctx context.Context) (string, error) {
		return c.submitOnce(ctx, queryID, params)
	}, nil)
}

func (c *Client) submitOnce(ctx context.Context, queryID QueryID, params Params) (string, error) {
	const op = "submit"
	if params == nil {
		params = Params{}
	}

	var resp jobResponse
	path := "/queries/" + url.PathEscape(string(queryID)) + "/results"
	body := submitRequest{MaxAge: 0, Parameters: params}
	if err := c.doJSON(ctx, op, endpointSubmit, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}

	if resp.Job == nil {
		return "", missingField(op, "job")
	}
	id, ok := idString(resp.Job.ID)
	if !ok {
		return "", missingField(op, "job.id")
	}

	c.logger.Debug().
		Str("query_id", string(queryID)).
		Str("job_id", id).
		Msg("Query submitted")
	return id, nil
}

// Poll checks the job once. A failed or cancelled job is reported as a
// PhaseFailed state carrying a *ConnectivityError; the returned error is
// reserved for failures of the status call itself.
func (c *Client) Poll(ctx context.Context, jobID string) (JobState, error) {
	const op = "poll"

	var resp jobResponse
	path := "/jobs/" + url.PathEscape(jobID)
	if err := c.doJSON(ctx, op, endpointJob, http.MethodGet, path, nil, &resp); err != nil {
		return JobState{}, err
	}
	if resp.Job == nil {
		return JobState{}, missingField(op, "job")
	}
	if resp.Job.Status == nil {
		return JobState{}, missingField(op, "job.status")
	}

	status := *resp.Job.Status
	switch status {
	case JobQueued, JobStarted:
		return JobState{Phase: PhasePending, Status: status}, nil
	case JobFinished:
		resultID, ok := idString(resp.Job.QueryResultID)
		if !ok {
			return JobState{}, missingField(op, "job.query_result_id")
		}
		return JobState{Phase: PhaseReady, Status: status, ResultID: resultID}, nil
	default:
		msg := fmt.Sprintf("job %s %s (status %d)", jobID, status, int(status))
		if resp.Job.Error != "" {
			msg += ": " + resp.Job.Error
		}
		return JobState{
			Phase:  PhaseFailed,
			Status: status,
			Err:    &ConnectivityError{Op: op, Message: msg},
		}, nil
	}
}

// WaitForJob polls jobID with the poll policy until it leaves the pending
// phase and returns the result id. A failed job stops polling immediately.
func (c *Client) WaitForJob(ctx context.Context, jobID string) (string, error) {
	state, err := retry.DoValue(ctx, c.config.Poll, func(ctx context.Context) (JobState, error) {
		return c.Poll(ctx, jobID)
	}, JobState.Pending)
	if err != nil {
		return "", err
	}
	if state.Phase == PhaseFailed {
		return "", state.Err
	}
	return state.ResultID, nil
}

// idString accepts ids encoded as JSON strings or numbers.
func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	default:
		return "", false
	}
}
