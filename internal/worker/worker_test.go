package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type orphanResponse struct {
	ids []uuid.UUID
	err error
}

type sequenceSource struct {
	mu        sync.Mutex
	responses []orphanResponse
	grace     time.Duration
}

func (s *sequenceSource) Orphans(_ context.Context, grace time.Duration, _ int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = grace
	if len(s.responses) == 0 {
		return nil, nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.ids, next.err
}

func TestWorkerRecoversOrphans(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, b := uuid.New(), uuid.New()
	source := &sequenceSource{responses: []orphanResponse{{ids: []uuid.UUID{a, b}}}}

	var (
		mu   sync.Mutex
		seen []uuid.UUID
	)
	w := NewWorker(source, NewPool(2), func(_ context.Context, id uuid.UUID) {
		mu.Lock()
		seen = append(seen, id)
		if len(seen) == 2 {
			cancel()
		}
		mu.Unlock()
	}, Config{NodeID: "node-a", Interval: time.Millisecond, Grace: 5 * time.Second})

	if err := w.Run(ctx); err != nil {
		t.Fatalf("worker run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 recovered children, got %d", len(seen))
	}
	if source.grace != 5*time.Second {
		t.Fatalf("expected grace to be passed through, got %s", source.grace)
	}
}

func TestWorkerContinuesAfterScanErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	source := &sequenceSource{responses: []orphanResponse{
		{err: errors.New("database is locked")},
		{ids: []uuid.UUID{uuid.New()}},
	}}

	var executed int32
	w := NewWorker(source, NewPool(1), func(context.Context, uuid.UUID) {
		atomic.AddInt32(&executed, 1)
		cancel()
	}, Config{Interval: time.Millisecond})

	if err := w.Run(ctx); err != nil {
		t.Fatalf("worker run failed: %v", err)
	}
	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Fatalf("expected 1 recovered child, got %d", got)
	}
}

func TestWorkerSkipsChildrenAlreadyInFlight(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id := uuid.New()
	source := &sequenceSource{responses: []orphanResponse{
		{ids: []uuid.UUID{id}},
		{ids: []uuid.UUID{id}},
		{ids: []uuid.UUID{id}},
	}}

	release := make(chan struct{})
	var executed int32
	w := NewWorker(source, NewPool(4), func(context.Context, uuid.UUID) {
		atomic.AddInt32(&executed, 1)
		<-release
	}, Config{Interval: time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)
	cancel()
	<-done

	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Fatalf("expected a single execution while in flight, got %d", got)
	}
}
