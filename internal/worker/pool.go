package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool bounds how many recovered children execute at once.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	active atomic.Int32
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs fn once a slot frees up, or gives up when ctx ends.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		p.active.Add(1)
		go func() {
			defer func() {
				p.active.Add(-1)
				<-p.sem
				p.wg.Done()
			}()
			fn()
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active is the number of running submissions.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
