// Package remote talks to the workflow execution API each target exposes:
// submit a run, poll its status, fetch its rows.
package remote

import (
	"context"
)

// RunState is the lifecycle state the remote API reports for a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the run will not change state again.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Address is where and how to reach one target. Only the target resolver
// builds these.
type Address struct {
	ExternalID string
	Endpoint   string
	Token      string
}

// RunRequest is one query run against one target.
type RunRequest struct {
	QueryID    string         `json:"query_id,omitempty"`
	Statement  string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RunStatus is the polled state of a run.
type RunStatus struct {
	State          RunState `json:"status"`
	OutputLocation string   `json:"output_location,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// ResultSet is the rows a run produced. An empty set is a valid result.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Client is the narrow contract fanout needs from the remote API. Every
// returned error carries an execerr kind.
type Client interface {
	Submit(ctx context.Context, addr Address, req RunRequest) (string, error)
	Status(ctx context.Context, addr Address, runID string) (*RunStatus, error)
	Results(ctx context.Context, addr Address, runID string) (*ResultSet, error)
}

// Pacer admits one outbound request at a time at a bounded rate.
type Pacer interface {
	Wait(ctx context.Context) error
}
