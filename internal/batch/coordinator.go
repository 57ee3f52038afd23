package batch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caesium-cloud/fanout/internal/access"
	"github.com/caesium-cloud/fanout/internal/event"
	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/internal/governor"
	"github.com/caesium-cloud/fanout/internal/metrics"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/retry"
	"github.com/caesium-cloud/fanout/internal/runner"
	"github.com/caesium-cloud/fanout/internal/target"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultLeaseTTL = 2 * time.Minute

// Executor performs one attempt of one child against its target.
type Executor interface {
	Run(ctx context.Context, job runner.Job, check runner.Checkpoint) (*runner.Result, error)
}

// TargetResolver turns a target id into a callable address for principal.
type TargetResolver interface {
	Resolve(ctx context.Context, principal string, id uuid.UUID) (*target.Resolved, error)
}

// Config tunes a Coordinator.
type Config struct {
	NodeID       string
	MaxBatchSize int
	LeaseTTL     time.Duration
	Retry        retry.Policy
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Store    *Store
	Governor *governor.Governor
	Executor Executor
	Targets  TargetResolver
	// Access may be nil, in which case every principal may use everything.
	Access *access.Checker
	// Bus may be nil.
	Bus event.Bus
}

// Coordinator accepts batches and drives their children to completion.
type Coordinator struct {
	store    *Store
	governor *governor.Governor
	exec     Executor
	targets  TargetResolver
	access   *access.Checker
	bus      event.Bus
	cfg      Config
	tracer   trace.Tracer

	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	registry *registry
	// children this process is currently executing
	local sync.Map
}

// New returns a coordinator whose dispatched work lives until ctx ends or
// Shutdown is called.
func New(ctx context.Context, deps Deps, cfg Config) *Coordinator {
	if deps.Store == nil || deps.Governor == nil || deps.Executor == nil || deps.Targets == nil {
		panic("batch coordinator requires store, governor, executor and target resolver")
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "unknown-node"
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.Default()
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.Nop{}
	}

	ctx, stop := context.WithCancel(ctx)
	return &Coordinator{
		store:    deps.Store,
		governor: deps.Governor,
		exec:     deps.Executor,
		targets:  deps.Targets,
		access:   deps.Access,
		bus:      bus,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/caesium-cloud/fanout/internal/batch"),
		ctx:      ctx,
		stop:     stop,
		registry: newRegistry(),
	}
}

// Submit validates and persists a batch, then starts every child in the
// background. It returns as soon as the batch is stored.
func (c *Coordinator) Submit(ctx context.Context, principal string, req *SubmitRequest) (*models.Batch, error) {
	if req == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "empty request")
	}
	if err := req.Validate(c.cfg.MaxBatchSize); err != nil {
		return nil, err
	}

	q, err := c.store.Query(ctx, req.QueryID)
	if err != nil {
		return nil, err
	}
	targets, err := c.store.Targets(ctx, req.TargetIDs)
	if err != nil {
		return nil, err
	}

	if err := c.authorize(ctx, principal, q, targets); err != nil {
		return nil, err
	}

	b, err := c.store.Create(ctx, principal, req, targets)
	if err != nil {
		return nil, err
	}

	metrics.BatchesSubmittedTotal.Inc()
	metrics.BatchTargets.Observe(float64(b.TotalTargets))
	log.Info("batch submitted", "batch_id", b.ID, "query_id", b.QueryID, "owner", principal, "targets", b.TotalTargets)
	c.bus.Publish(event.Event{Type: event.TypeBatchSubmitted, BatchID: b.ID, Status: b.Status})

	for _, child := range b.Children {
		c.dispatch(child.ID)
	}

	return b, nil
}

func (c *Coordinator) authorize(ctx context.Context, principal string, q *models.Query, targets []*models.Target) error {
	if c.access == nil {
		return nil
	}

	ok, err := c.access.Allowed(ctx, principal, models.ResourceTypeQuery, access.Resource{ID: q.ID, Owner: q.Owner})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrForbidden, "query %s", q.ID)
	}

	resources := make([]access.Resource, 0, len(targets))
	for _, t := range targets {
		resources = append(resources, access.Resource{ID: t.ID, Owner: t.Owner})
	}
	denied, err := c.access.Denied(ctx, principal, models.ResourceTypeTarget, resources)
	if err != nil {
		return err
	}
	if len(denied) > 0 {
		ids := make([]string, 0, len(denied))
		for _, id := range denied {
			ids = append(ids, id.String())
		}
		return errors.Wrapf(ErrForbidden, "targets %s", strings.Join(ids, ", "))
	}
	return nil
}

func (c *Coordinator) dispatch(childID uuid.UUID) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Execute(c.ctx, childID)
	}()
}

// Execute drives one child from pending to a terminal status. It is safe to
// call for a child another worker owns; the claim decides who runs it. If
// ctx ends before the child finishes, and the batch was not cancelled, the
// child is left for lease-based recovery.
func (c *Coordinator) Execute(ctx context.Context, childID uuid.UUID) {
	if _, busy := c.local.LoadOrStore(childID, struct{}{}); busy {
		return
	}
	defer c.local.Delete(childID)

	ctx, span := c.tracer.Start(ctx, "batch.Execute", trace.WithAttributes(
		attribute.String("fanout.child_id", childID.String()),
	))
	defer span.End()

	d, err := c.store.Dispatch(ctx, childID)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("failed to load child for execution", "child_id", childID, "error", err)
		}
		return
	}
	if ChildStatus(d.Child.Status).Terminal() {
		return
	}
	span.SetAttributes(attribute.String("fanout.batch_id", d.BatchID.String()))

	batchCtx, release := c.registry.track(ctx, d.BatchID)
	defer release()

	sl := &slot{gov: c.governor}
	if err := sl.acquire(batchCtx); err != nil {
		return
	}
	defer sl.release()

	child, ok, err := c.store.Claim(batchCtx, childID, c.cfg.NodeID, c.cfg.LeaseTTL)
	if err != nil {
		if batchCtx.Err() == nil {
			log.Error("failed to claim child", "child_id", childID, "error", err)
		}
		return
	}
	if !ok {
		metrics.WorkerClaimContentionTotal.WithLabelValues(c.cfg.NodeID).Inc()
		return
	}
	metrics.WorkerClaimsTotal.WithLabelValues(c.cfg.NodeID).Inc()
	c.publishChild(event.TypeChildStarted, d.BatchID, child)

	runCtx, stopRun := context.WithCancel(batchCtx)
	defer stopRun()

	var leaseLost atomic.Bool
	leaseDone := make(chan struct{})
	go func() {
		defer close(leaseDone)
		if !c.holdLease(runCtx, childID) {
			leaseLost.Store(true)
			stopRun()
		}
	}()

	started := time.Now()
	res, attempts, runErr := c.run(runCtx, d, child, sl)
	stopRun()
	<-leaseDone

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(execerr.KindOf(runErr)))
	}

	if leaseLost.Load() && runErr != nil {
		// cancelled or taken over; whoever holds it now records the outcome
		return
	}

	out := Outcome{
		ChildID:  childID,
		Attempts: attempts,
		Duration: time.Since(started),
	}
	if res != nil {
		out.RunID = res.RunID
	}

	switch {
	case runErr == nil:
		out.Status = ChildCompleted
		out.Columns = res.Columns
		out.Rows = res.Rows
	case execerr.KindOf(runErr) == execerr.KindCancelled:
		cancelled, err := c.store.CancelRequested(context.WithoutCancel(ctx), d.BatchID)
		if (err != nil || !cancelled) && ctx.Err() != nil {
			log.Info("leaving child for recovery", "child_id", childID, "batch_id", d.BatchID)
			return
		}
		out.Status = ChildCancelled
		out.ErrorKind = string(execerr.KindCancelled)
		out.ErrorMessage = "batch cancelled"
	default:
		kind, msg := execerr.Public(runErr)
		if kind == execerr.KindInternal {
			log.Error("child execution failed with internal error", "child_id", childID, "batch_id", d.BatchID, "error", runErr)
		}
		out.Status = ChildFailed
		out.ErrorKind = string(kind)
		out.ErrorMessage = msg
	}

	c.finish(context.WithoutCancel(ctx), d.BatchID, out)
}

// run drives the retry loop for a claimed child. Attempts made by an earlier
// holder of the lease count against the budget. The governor slot is held
// only while an attempt runs, not across backoff waits.
func (c *Coordinator) run(ctx context.Context, d *Dispatch, child *models.ChildExecution, sl *slot) (*runner.Result, int, error) {
	prior := child.Attempts
	policy := c.cfg.Retry
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if prior >= policy.MaxAttempts {
		return nil, prior, execerr.New(execerr.KindUnavailable, "retry budget spent by an earlier worker")
	}
	policy.MaxAttempts -= prior

	resolved, err := c.targets.Resolve(ctx, d.Owner, child.TargetID)
	if err != nil {
		return nil, prior, err
	}

	check := func(ctx context.Context) error {
		cancelled, err := c.store.CancelRequested(ctx, d.BatchID)
		if err != nil {
			if ctx.Err() != nil {
				return execerr.Wrap(execerr.KindOf(ctx.Err()), ctx.Err(), "execution stopped")
			}
			log.Warn("cancellation check failed", "batch_id", d.BatchID, "error", err)
			return nil
		}
		if cancelled {
			c.registry.cancelBatch(d.BatchID)
			return execerr.New(execerr.KindCancelled, "batch cancelled")
		}
		return nil
	}

	var (
		last    *runner.Result
		lastErr error
	)
	outcome, err := policy.Do(ctx, func(ctx context.Context, n int) error {
		attempt := prior + n
		if n > 1 {
			metrics.ExecutionRetriesTotal.WithLabelValues(string(execerr.KindOf(lastErr))).Inc()
			c.bus.Publish(event.Event{
				Type:     event.TypeChildRetrying,
				BatchID:  d.BatchID,
				ChildID:  child.ID,
				TargetID: child.TargetID,
				Status:   string(ChildRunning),
			})
		}

		if err := sl.acquire(ctx); err != nil {
			return execerr.Wrap(execerr.KindCancelled, err, "execution stopped")
		}
		defer sl.release()

		if _, err := c.store.RecordAttempt(ctx, child.ID, c.cfg.NodeID, attempt); err != nil && ctx.Err() == nil {
			log.Warn("failed to record attempt", "child_id", child.ID, "attempt", attempt, "error", err)
		}

		res, err := c.exec.Run(ctx, runner.Job{
			ChildID:    child.ID,
			Attempt:    attempt,
			QueryID:    child.QueryID,
			Statement:  d.Statement,
			Parameters: child.Parameters,
			Address:    resolved.Address,
		}, check)
		if res != nil {
			last = res
		}
		lastErr = err
		return err
	})
	if err == nil && last == nil {
		last = &runner.Result{}
	}
	if err != nil && ctx.Err() != nil && execerr.KindOf(err) != execerr.KindCancelled {
		// a transient failure interrupted mid-backoff by a cancel
		err = execerr.Wrap(execerr.KindCancelled, err, "execution stopped")
	}
	return last, prior + outcome.Attempts, err
}

// slot is one child's hold on the governor.
type slot struct {
	gov  *governor.Governor
	held bool
}

func (s *slot) acquire(ctx context.Context) error {
	if s.held {
		return nil
	}
	if err := s.gov.Acquire(ctx); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *slot) release() {
	if s.held {
		s.gov.Release()
		s.held = false
	}
}

// holdLease renews the claim at half its TTL until ctx ends. It returns
// false once the lease can no longer be renewed.
func (c *Coordinator) holdLease(ctx context.Context, childID uuid.UUID) bool {
	ticker := time.NewTicker(c.cfg.LeaseTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			ok, err := c.store.RenewLease(ctx, childID, c.cfg.NodeID, c.cfg.LeaseTTL)
			if err != nil {
				if ctx.Err() != nil {
					return true
				}
				log.Warn("failed to renew child lease", "child_id", childID, "error", err)
				continue
			}
			if !ok {
				log.Info("child lease lost", "child_id", childID, "node_id", c.cfg.NodeID)
				return false
			}
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, batchID uuid.UUID, out Outcome) {
	tr, err := c.store.Finish(ctx, out)
	if err != nil {
		log.Error("failed to record child outcome", "child_id", out.ChildID, "status", out.Status, "error", err)
		return
	}
	if !tr.Applied {
		log.Debug("discarding late child outcome", "child_id", out.ChildID, "status", out.Status)
		return
	}

	metrics.ChildExecutionsTotal.WithLabelValues(string(out.Status), out.ErrorKind).Inc()
	metrics.ChildExecutionDurationSeconds.WithLabelValues(string(out.Status)).Observe(out.Duration.Seconds())

	log.Info("child finished",
		"child_id", out.ChildID,
		"batch_id", batchID,
		"status", out.Status,
		"attempts", out.Attempts,
		"rows", len(out.Rows),
		"error_kind", out.ErrorKind,
	)

	switch out.Status {
	case ChildCompleted:
		c.publishChild(event.TypeChildCompleted, batchID, tr.Child)
	case ChildFailed:
		c.publishChild(event.TypeChildFailed, batchID, tr.Child)
	case ChildCancelled:
		c.publishChild(event.TypeChildCancelled, batchID, tr.Child)
	}

	if tr.Finished {
		c.batchFinished(tr.Batch)
	}
}

func (c *Coordinator) batchFinished(b *models.Batch) {
	metrics.BatchesFinishedTotal.WithLabelValues(b.Status).Inc()
	log.Info("batch finished",
		"batch_id", b.ID,
		"status", b.Status,
		"completed", b.CompletedTargets,
		"failed", b.FailedTargets,
		"cancelled", b.CancelledTargets,
	)
	c.bus.Publish(event.Event{Type: event.TypeBatchFinished, BatchID: b.ID, Status: b.Status})
}

func (c *Coordinator) publishChild(t event.Type, batchID uuid.UUID, child *models.ChildExecution) {
	if child == nil {
		return
	}
	c.bus.Publish(event.Event{
		Type:     t,
		BatchID:  batchID,
		ChildID:  child.ID,
		TargetID: child.TargetID,
		Status:   child.Status,
	})
}

// Cancel stops a batch. It returns true only for the call that moved the
// batch from a non-terminal status to cancelled.
func (c *Coordinator) Cancel(ctx context.Context, batchID uuid.UUID) (bool, error) {
	res, err := c.store.Cancel(ctx, batchID)
	if err != nil {
		return false, err
	}
	if !res.Cancelled {
		return false, nil
	}

	stopped := c.registry.cancelBatch(batchID)
	log.Info("batch cancelled", "batch_id", batchID, "children", len(res.Children), "in_flight", stopped)

	for _, id := range res.Children {
		c.bus.Publish(event.Event{
			Type:    event.TypeChildCancelled,
			BatchID: batchID,
			ChildID: id,
			Status:  string(ChildCancelled),
		})
	}
	metrics.BatchesFinishedTotal.WithLabelValues(string(StatusCancelled)).Inc()
	c.bus.Publish(event.Event{Type: event.TypeBatchCancelled, BatchID: batchID, Status: string(StatusCancelled)})

	return true, nil
}

// Wait blocks until every dispatched child has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops dispatched work and waits for it. Unfinished children are
// left for recovery.
func (c *Coordinator) Shutdown() {
	c.stop()
	c.Wait()
}
