// Package governor caps how many remote executions run at once across the
// whole process, and optionally paces requests to the remote API.
package governor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/caesium-cloud/fanout/internal/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const DefaultMaxConcurrent = 5

// Governor is a counting semaphore shared by every batch in the process.
type Governor struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	pacer    *rate.Limiter
}

// Option tunes a Governor.
type Option func(*Governor)

// WithRate paces Wait callers to perSecond requests with the given burst.
// A non-positive rate leaves requests unpaced.
func WithRate(perSecond float64, burst int) Option {
	return func(g *Governor) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.pacer = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New returns a governor allowing max concurrent executions.
func New(max int, opts ...Option) *Governor {
	if max < 1 {
		max = DefaultMaxConcurrent
	}

	g := &Governor{
		sem:   semaphore.NewWeighted(int64(max)),
		limit: int64(max),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Governor) Acquire(ctx context.Context) error {
	started := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire execution slot")
	}
	metrics.GovernorWaitSeconds.Observe(time.Since(started).Seconds())
	metrics.ExecutionsInFlight.Set(float64(g.inFlight.Add(1)))
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (g *Governor) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	metrics.ExecutionsInFlight.Set(float64(g.inFlight.Add(1)))
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (g *Governor) Release() {
	metrics.ExecutionsInFlight.Set(float64(g.inFlight.Add(-1)))
	g.sem.Release(1)
}

// Wait blocks until the pacer admits one remote request.
func (g *Governor) Wait(ctx context.Context) error {
	if g.pacer == nil {
		return ctx.Err()
	}
	return g.pacer.Wait(ctx)
}

// InFlight is the number of held slots.
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Limit is the configured slot count.
func (g *Governor) Limit() int {
	return int(g.limit)
}
