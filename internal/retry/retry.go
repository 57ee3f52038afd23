// Package retry runs an operation under a bounded exponential retry policy.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBase        = 2.0
	DefaultUnit        = time.Second
)

// Policy bounds retries of transient failures. The delay before attempt n+1
// is Unit * Base^n, and at most MaxAttempts attempts are made in total.
type Policy struct {
	MaxAttempts int
	Base        float64
	Unit        time.Duration
}

// Default returns the standard policy: three attempts, 2s then 4s apart.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Base:        DefaultBase,
		Unit:        DefaultUnit,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Base < 1 {
		p.Base = DefaultBase
	}
	if p.Unit <= 0 {
		p.Unit = DefaultUnit
	}
	return p
}

// Delay returns the wait before attempt n+1, for n >= 1.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	return time.Duration(float64(p.Unit) * math.Pow(p.Base, float64(n)))
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Outcome reports how many attempts Do made.
type Outcome struct {
	Attempts int
}

// Do runs op until it succeeds, fails with a non-transient error, the
// attempt budget is spent or ctx is done. The last error is returned as-is.
func (p Policy) Do(ctx context.Context, op Operation) (Outcome, error) {
	p = p.normalized()

	var (
		out     Outcome
		lastErr error
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay(1)
	b.Multiplier = p.Base
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		out.Attempts++
		err := op(ctx, out.Attempts)
		lastErr = err
		if err == nil {
			return nil
		}
		if !execerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Debug("retrying transient failure",
			"attempt", out.Attempts,
			"kind", execerr.KindOf(err),
			"wait", wait,
		)
	})
	if err == nil {
		return out, nil
	}

	// backoff reports ctx.Err() when the context ends between attempts; the
	// attempt's own failure carries the kind callers classify on.
	if lastErr != nil {
		return out, lastErr
	}
	return out, err
}
