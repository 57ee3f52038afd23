package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// registry tracks the in-process contexts executing each batch's children
// so a cancel can stop in-flight work without waiting for the next poll.
type registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[*handle]struct{}
}

type handle struct {
	cancel context.CancelCauseFunc
}

func newRegistry() *registry {
	return &registry{entries: make(map[uuid.UUID]map[*handle]struct{})}
}

// track returns a context derived from parent that cancelBatch will cancel.
// release must be called when the work is done.
func (r *registry) track(parent context.Context, batchID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	h := &handle{cancel: cancel}

	r.mu.Lock()
	set, ok := r.entries[batchID]
	if !ok {
		set = make(map[*handle]struct{})
		r.entries[batchID] = set
	}
	set[h] = struct{}{}
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if set, ok := r.entries[batchID]; ok {
			delete(set, h)
			if len(set) == 0 {
				delete(r.entries, batchID)
			}
		}
		r.mu.Unlock()
		cancel(nil)
	}
}

// cancelBatch cancels every tracked context for the batch.
func (r *registry) cancelBatch(batchID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.entries[batchID]
	for h := range set {
		h.cancel(errBatchCancelled)
	}
	return len(set)
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
