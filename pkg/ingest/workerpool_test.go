package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	p, err := NewWorkerPool(4)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	var ran int32
	jobs := 100
	for i := 0; i < jobs; i++ {
		err := p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	// close and wait
	p.Close()

	if got := atomic.LoadInt32(&ran); int(got) != jobs {
		t.Fatalf("expected %d jobs executed, got %d", jobs, got)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	p, err := NewWorkerPool(workers)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start(context.Background())

	var inFlight, peak int32
	for i := 0; i < 30; i++ {
		err := p.Submit(func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	p.Close()

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Fatalf("expected at most %d concurrent jobs, saw %d", workers, got)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p, err := NewWorkerPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Close()
	cancel()
	if err := p.Submit(func(ctx context.Context) error { return nil }); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	// Closing twice is a no-op.
	p.Close()
}

func TestSubmitCtxCanceled(t *testing.T) {
	p, err := NewWorkerPool(1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.SubmitCtx(ctx, func(ctx context.Context) error { return nil }); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestJobsSeeStartContext(t *testing.T) {
	p, err := NewWorkerPool(2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	var sawCancel int32
	for i := 0; i < 4; i++ {
		if err := p.Submit(func(ctx context.Context) error {
			if ctx.Err() != nil {
				atomic.AddInt32(&sawCancel, 1)
			}
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked after context cancellation")
	}
	if got := atomic.LoadInt32(&sawCancel); got != 4 {
		t.Fatalf("expected every job to see the canceled context, got %d", got)
	}
}
