// Package remotetest provides a scriptable in-memory remote.Client.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/internal/remote"
)

// Script drives how the fake answers for one target.
type Script struct {
	// SubmitErrs are returned by successive Submit calls before one succeeds.
	SubmitErrs []error
	// Polls are returned by successive Status calls; the last one repeats.
	// Empty means the run succeeds on the first poll.
	Polls []remote.RunStatus
	// StatusErr, if set, is returned by every Status call.
	StatusErr error
	Result    *remote.ResultSet
	ResultErr error
	// Block, if set, makes Status wait until it is closed or ctx ends.
	Block chan struct{}
}

// Call records one request the fake served.
type Call struct {
	Op         string
	ExternalID string
	RunID      string
	Request    remote.RunRequest
	Token      string
}

// Client is a remote.Client backed by per-target scripts keyed by
// external id. Targets without a script succeed with an empty result.
type Client struct {
	mu      sync.Mutex
	scripts map[string]*Script
	submits map[string]int
	polls   map[string]int
	runs    map[string]string
	calls   []Call
	seq     int
}

func New() *Client {
	return &Client{
		scripts: map[string]*Script{},
		submits: map[string]int{},
		polls:   map[string]int{},
		runs:    map[string]string{},
	}
}

// Script installs s for the target with the given external id.
func (c *Client) Script(externalID string, s *Script) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[externalID] = s
	return c
}

// Calls returns a copy of every recorded call.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Submits counts Submit calls for a target, failed ones included.
func (c *Client) Submits(externalID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits[externalID]
}

func (c *Client) Submit(ctx context.Context, addr remote.Address, req remote.RunRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", execerr.Wrap(execerr.KindOf(err), err, "submit")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.submits[addr.ExternalID]
	c.submits[addr.ExternalID] = n + 1
	c.calls = append(c.calls, Call{Op: "submit", ExternalID: addr.ExternalID, Request: req, Token: addr.Token})

	if s := c.scripts[addr.ExternalID]; s != nil && n < len(s.SubmitErrs) && s.SubmitErrs[n] != nil {
		return "", s.SubmitErrs[n]
	}

	c.seq++
	runID := fmt.Sprintf("run-%d", c.seq)
	c.runs[runID] = addr.ExternalID
	c.polls[runID] = 0
	return runID, nil
}

func (c *Client) Status(ctx context.Context, addr remote.Address, runID string) (*remote.RunStatus, error) {
	c.mu.Lock()
	s := c.scripts[addr.ExternalID]
	c.calls = append(c.calls, Call{Op: "status", ExternalID: addr.ExternalID, RunID: runID})
	n := c.polls[runID]
	c.polls[runID] = n + 1
	_, known := c.runs[runID]
	c.mu.Unlock()

	if !known {
		return nil, execerr.Newf(execerr.KindNotFound, "run %s not found", runID)
	}

	if s != nil && s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return nil, execerr.Wrap(execerr.KindOf(ctx.Err()), ctx.Err(), "status")
		}
	}

	if s == nil || (len(s.Polls) == 0 && s.StatusErr == nil) {
		return &remote.RunStatus{State: remote.RunSucceeded}, nil
	}
	if s.StatusErr != nil {
		return nil, s.StatusErr
	}
	if n >= len(s.Polls) {
		n = len(s.Polls) - 1
	}
	st := s.Polls[n]
	return &st, nil
}

func (c *Client) Results(_ context.Context, addr remote.Address, runID string) (*remote.ResultSet, error) {
	c.mu.Lock()
	s := c.scripts[addr.ExternalID]
	c.calls = append(c.calls, Call{Op: "results", ExternalID: addr.ExternalID, RunID: runID})
	c.mu.Unlock()

	if s == nil || s.Result == nil {
		if s != nil && s.ResultErr != nil {
			return nil, s.ResultErr
		}
		return &remote.ResultSet{}, nil
	}
	if s.ResultErr != nil {
		return nil, s.ResultErr
	}
	rs := *s.Result
	return &rs, nil
}
