package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Job is a unit of work submitted to the WorkerPool.
// It returns an error to indicate failure; callers may treat errors as they see fit.
type Job func(ctx context.Context) error

// WorkerPool runs jobs on at most a fixed number of goroutines. Submit blocks
// while every worker is busy, which bounds the number of in-flight database
// transactions during ingestion.
type WorkerPool struct {
	pool *ants.Pool
	wg   sync.WaitGroup
	ctx  context.Context

	closeMu sync.RWMutex
	closed  bool
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(workers int) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	p, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &WorkerPool{pool: p, ctx: context.Background()}, nil
}

// Start sets the context handed to every job. Jobs submitted after ctx is done
// still run but see a canceled context.
func (p *WorkerPool) Start(ctx context.Context) {
	p.closeMu.Lock()
	p.ctx = ctx
	p.closeMu.Unlock()
}

// Submit enqueues a job for processing. Returns ErrPoolClosed if the pool is closed.
func (p *WorkerPool) Submit(job Job) error {
	p.closeMu.RLock()
	if p.closed {
		p.closeMu.RUnlock()
		return ErrPoolClosed
	}
	ctx := p.ctx
	p.wg.Add(1)
	p.closeMu.RUnlock()

	err := p.pool.Submit(func() {
		defer p.wg.Done()
		// Errors are reported by the job itself through shared state.
		_ = job(ctx)
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// SubmitCtx is Submit that gives up before enqueueing when ctx is already done.
func (p *WorkerPool) SubmitCtx(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(job)
}

// Close stops accepting new jobs, waits for submitted ones and releases the workers.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()
	p.wg.Wait()
	p.pool.Release()
}

// ErrPoolClosed is returned if a Submit is attempted after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// PoolError provides a simple typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
