package worker

import (
	"context"
	"sync"
	"time"

	"github.com/caesium-cloud/fanout/internal/metrics"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/google/uuid"
)

const (
	defaultInterval = 30 * time.Second
	defaultGrace    = time.Minute
	defaultScan     = 64
)

var logger = log.Named("recovery")

// OrphanSource lists child executions no live process is driving.
type OrphanSource interface {
	Orphans(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error)
}

// ChildExecutor drives one child to completion.
type ChildExecutor func(ctx context.Context, childID uuid.UUID)

// Config tunes a recovery Worker.
type Config struct {
	NodeID   string
	Interval time.Duration
	Grace    time.Duration
	Scan     int
}

// Worker periodically picks up orphaned children, such as those left behind
// by a crashed or restarted node, and feeds them through a bounded pool.
type Worker struct {
	source   OrphanSource
	pool     *Pool
	executor ChildExecutor
	cfg      Config

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewWorker(source OrphanSource, pool *Pool, executor ChildExecutor, cfg Config) *Worker {
	if source == nil {
		panic("recovery worker requires an orphan source")
	}
	if executor == nil {
		panic("recovery worker requires a child executor")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.Scan <= 0 {
		cfg.Scan = defaultScan
	}

	return &Worker{
		source:   source,
		pool:     pool,
		executor: executor,
		cfg:      cfg,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Run scans until ctx ends, then waits for submitted work to return.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Wait()

	for {
		if err := w.scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorw("failed to scan for orphaned children", "error", err)
		}

		if err := sleepWithContext(ctx, w.cfg.Interval); err != nil {
			return nil
		}
	}
}

func (w *Worker) scan(ctx context.Context) error {
	ids, err := w.source.Orphans(ctx, w.cfg.Grace, w.cfg.Scan)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if !w.begin(id) {
			continue
		}

		childID := id
		if err := w.pool.Submit(ctx, func() {
			defer w.end(childID)
			w.executor(ctx, childID)
		}); err != nil {
			w.end(childID)
			return err
		}

		metrics.WorkerRecoveredTotal.WithLabelValues(w.cfg.NodeID).Inc()
		logger.Infow("recovering orphaned child", "child_id", childID, "node_id", w.cfg.NodeID)
	}
	return nil
}

func (w *Worker) begin(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *Worker) end(id uuid.UUID) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
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
