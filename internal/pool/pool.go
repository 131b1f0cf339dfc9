// Package pool provides a bounded-concurrency task executor with futures.
// It is used at two levels: across documents within a batch and, via a
// single shared pool, across sections of all in-flight documents.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when the submission queue has no room.
	ErrQueueFull = errors.New("pool queue full")

	// ErrDraining is returned when submitting to a draining pool.
	ErrDraining = errors.New("pool is draining")
)

// Task is a unit of work. It must respect context cancellation.
type Task[T any] func(ctx context.Context) (T, error)

// Future resolves to the result of a submitted task. A task failure,
// including a recovered panic, resolves the future with an error; it never
// crashes the pool or sibling tasks.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done returns a channel closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) complete(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

type item[T any] struct {
	task   Task[T]
	future *Future[T]
}

// Config configures a new pool.
type Config struct {
	Name    string
	Logger  *slog.Logger
	Workers int // Max concurrent tasks (default 1)

	// QueueSize bounds the FIFO overflow queue (default 1024).
	QueueSize int
}

// Pool runs at most Workers tasks concurrently. Excess submissions queue in
// FIFO order until a worker frees up.
type Pool[T any] struct {
	name    string
	logger  *slog.Logger
	workers int

	queue chan *item[T]

	inFlight atomic.Int32
	draining atomic.Bool
	pending  sync.WaitGroup
	wg       sync.WaitGroup

	// mu orders enqueues against the shutdown flush: stopped is set under mu
	// after the workers exit, so any item enqueued under mu is either picked
	// up by a worker or seen by the flush loop. Without it a submission
	// racing shutdown could land after the flush and never resolve.
	mu      sync.Mutex
	stopped bool
}

// New creates a pool. Call Start in a goroutine before submitting.
func New[T any](cfg Config) *Pool[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "pool"
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &Pool[T]{
		name:    name,
		logger:  logger.With("pool", name, "workers", workers),
		workers: workers,
		queue:   make(chan *item[T], queueSize),
	}
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Start runs the worker goroutines. Blocks until ctx is cancelled; run it in
// a goroutine. After cancellation, queued tasks that never started resolve
// their futures with the context error.
func (p *Pool[T]) Start(ctx context.Context) {
	p.logger.Debug("pool started")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	<-ctx.Done()
	p.draining.Store(true)
	p.wg.Wait()

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	// Workers have exited; flush whatever never started.
	for {
		select {
		case it := <-p.queue:
			var zero T
			it.future.complete(zero, ctx.Err())
			p.pending.Done()
		default:
			p.logger.Debug("pool stopped")
			return
		}
	}
}

// Submit enqueues a task and returns its future. Returns ErrDraining after
// drain/shutdown began, or ErrQueueFull if the overflow queue is full.
func (p *Pool[T]) Submit(task Task[T]) (*Future[T], error) {
	if p.draining.Load() {
		return nil, fmt.Errorf("%w: %s", ErrDraining, p.name)
	}

	it := &item[T]{
		task:   task,
		future: &Future[T]{done: make(chan struct{})},
	}

	p.pending.Add(1)
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.pending.Done()
		return nil, fmt.Errorf("%w: %s", ErrDraining, p.name)
	}
	select {
	case p.queue <- it:
		p.mu.Unlock()
		return it.future, nil
	default:
		p.mu.Unlock()
		p.pending.Done()
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// Drain stops accepting new submissions and waits for queued and in-flight
// tasks to finish, or for ctx to be cancelled.
func (p *Pool[T]) Drain(ctx context.Context) error {
	p.draining.Store(true)

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of tasks currently executing.
func (p *Pool[T]) InFlight() int {
	return int(p.inFlight.Load())
}

// QueueDepth returns the number of queued, not yet started tasks.
func (p *Pool[T]) QueueDepth() int {
	return len(p.queue)
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case it := <-p.queue:
			p.inFlight.Add(1)
			v, err := p.run(ctx, it.task)
			it.future.complete(v, err)
			p.inFlight.Add(-1)
			p.pending.Done()

			if err != nil {
				p.logger.Debug("task failed", "worker_id", id, "error", err)
			}
		}
	}
}

// run executes a task, converting panics into errors.
func (p *Pool[T]) run(ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return v, err
	}
	return task(ctx)
}
