// Package runner executes one query against one target: submit, poll until
// the remote run is terminal, fetch the rows.
package runner

import (
	"context"
	"time"

	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/internal/remote"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPollInitial    = time.Second
	DefaultPollMax        = 30 * time.Second
	DefaultPollTimeout    = 30 * time.Minute
	DefaultPollMultiplier = 1.5
)

// Config controls the polling cadence.
type Config struct {
	PollInitial    time.Duration
	PollMax        time.Duration
	PollTimeout    time.Duration
	PollMultiplier float64
}

func (c Config) normalized() Config {
	if c.PollInitial <= 0 {
		c.PollInitial = DefaultPollInitial
	}
	if c.PollMax < c.PollInitial {
		c.PollMax = max(DefaultPollMax, c.PollInitial)
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PollMultiplier < 1 {
		c.PollMultiplier = DefaultPollMultiplier
	}
	return c
}

// Job is one attempt at running a query on a target.
type Job struct {
	ChildID    uuid.UUID
	Attempt    int
	QueryID    uuid.UUID
	Statement  string
	Parameters map[string]any
	Address    remote.Address
}

// Result is a successful run's output.
type Result struct {
	RunID   string
	Columns []string
	Rows    [][]any
}

// Checkpoint is consulted before the submit and before every poll. A
// non-nil error abandons the run.
type Checkpoint func(ctx context.Context) error

type Runner struct {
	client remote.Client
	cfg    Config
	tracer trace.Tracer
}

func New(client remote.Client, cfg Config) *Runner {
	return &Runner{
		client: client,
		cfg:    cfg.normalized(),
		tracer: otel.Tracer("github.com/caesium-cloud/fanout/internal/runner"),
	}
}

// Run performs one attempt. Every error carries an execerr kind.
func (r *Runner) Run(ctx context.Context, job Job, check Checkpoint) (res *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("fanout.child_id", job.ChildID.String()),
		attribute.Int("fanout.attempt", job.Attempt),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(execerr.KindOf(err)))
		}
		span.End()
	}()

	if err := checkpoint(ctx, check); err != nil {
		return nil, err
	}

	runID, err := r.client.Submit(ctx, job.Address, remote.RunRequest{
		QueryID:    job.QueryID.String(),
		Statement:  job.Statement,
		Parameters: job.Parameters,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("fanout.remote_run_id", runID))

	status, err := r.poll(ctx, job, runID, check)
	if err != nil {
		return &Result{RunID: runID}, err
	}
	if status.State == remote.RunFailed {
		msg := status.Error
		if msg == "" {
			msg = "remote run failed"
		}
		return &Result{RunID: runID}, execerr.New(execerr.KindRunFailed, msg)
	}

	rs, err := r.client.Results(ctx, job.Address, runID)
	if err != nil {
		return &Result{RunID: runID}, err
	}

	return &Result{RunID: runID, Columns: rs.Columns, Rows: rs.Rows}, nil
}

func (r *Runner) poll(ctx context.Context, job Job, runID string, check Checkpoint) (*remote.RunStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	interval := backoff.NewExponentialBackOff()
	interval.InitialInterval = r.cfg.PollInitial
	interval.MaxInterval = r.cfg.PollMax
	interval.Multiplier = r.cfg.PollMultiplier
	interval.RandomizationFactor = 0
	interval.MaxElapsedTime = 0
	interval.Reset()

	for {
		if err := sleepWithContext(pollCtx, interval.NextBackOff()); err != nil {
			return nil, pollErr(ctx, runID, err)
		}
		if err := checkpoint(pollCtx, check); err != nil {
			if pollCtx.Err() != nil {
				return nil, pollErr(ctx, runID, pollCtx.Err())
			}
			return nil, err
		}

		status, err := r.client.Status(pollCtx, job.Address, runID)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, pollErr(ctx, runID, pollCtx.Err())
			}
			return nil, err
		}
		if status.State.Terminal() {
			return status, nil
		}

		log.Debug("remote run still in progress", "child_id", job.ChildID, "run_id", runID, "state", status.State)
	}
}

// pollErr distinguishes the poll budget running out from the caller giving up.
func pollErr(parent context.Context, runID string, err error) error {
	if perr := parent.Err(); perr != nil {
		return execerr.Wrap(execerr.KindOf(perr), perr, "polling run "+runID)
	}
	return execerr.Wrap(execerr.KindTimeout, err, "run "+runID+" did not finish within the poll timeout")
}

func checkpoint(ctx context.Context, check Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return execerr.Wrap(execerr.KindOf(err), err, "execution stopped")
	}
	if check == nil {
		return nil
	}
	return check(ctx)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
