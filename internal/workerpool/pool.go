// Package workerpool runs tasks with a fixed upper bound on concurrency.
//
// Submit never blocks the caller: each task gets its own goroutine which then
// waits for a free slot. This lets an accept loop hand off connections
// immediately while still capping how many are served at once.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Shutdown has been called.
var ErrClosed = errors.New("worker pool is shut down")

// Task is a unit of work. ctx is cancelled when the pool shuts down.
type Task func(ctx context.Context)

// Pool is a bounded task executor.
type Pool struct {
	size int64
	sem  *semaphore.Weighted

	// ctx is handed to running tasks; waitCtx only bounds slot acquisition.
	ctx         context.Context
	cancel      context.CancelFunc
	waitCtx     context.Context
	stopWaiting context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running atomic.Int32
	waiting atomic.Int32
}

// New creates a pool that runs at most size tasks at once. size < 1 is
// treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	waitCtx, stopWaiting := context.WithCancel(context.Background())
	return &Pool{
		size:        int64(size),
		sem:         semaphore.NewWeighted(int64(size)),
		ctx:         ctx,
		cancel:      cancel,
		waitCtx:     waitCtx,
		stopWaiting: stopWaiting,
	}
}

// Submit schedules task. It returns immediately.
//
// A task waiting for a slot is abandoned when ctx or the pool is cancelled;
// onDrop, if non-nil, is then called so the caller can release resources the
// task would have owned.
func (p *Pool) Submit(ctx context.Context, task Task, onDrop func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()

		acquireCtx, stopAcquire := mergeContexts(ctx, p.waitCtx)
		err := p.sem.Acquire(acquireCtx, 1)
		stopAcquire()
		p.waiting.Add(-1)
		if err != nil {
			if onDrop != nil {
				onDrop()
			}
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)

		runCtx, cancel := mergeContexts(ctx, p.ctx)
		defer cancel()
		task(runCtx)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones to finish or for
// ctx to expire. Waiting tasks are dropped. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stopWaiting()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Cancel cancels the context of every task without waiting.
func (p *Pool) Cancel() {
	p.stopWaiting()
	p.cancel()
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return int(p.size)
}

// Running returns the number of tasks currently holding a slot.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Waiting returns the number of submitted tasks still waiting for a slot.
func (p *Pool) Waiting() int {
	return int(p.waiting.Load())
}

// mergeContexts returns a context cancelled when either parent is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
