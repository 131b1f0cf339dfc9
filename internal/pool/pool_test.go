package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestPool_ConcurrencyBound verifies that at most Workers tasks run at once
// even when many more are submitted.
func TestPool_ConcurrencyBound(t *testing.T) {
	const workers = 3
	const tasks = 20

	p := New[int](Config{Name: "bound", Workers: workers})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	var running, peak atomic.Int32
	futures := make([]*Future[int], 0, tasks)
	for i := 0; i < tasks; i++ {
		i := i
		fut, err := p.Submit(func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return i, nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		futures = append(futures, fut)
	}

	for i, fut := range futures {
		v, err := fut.Wait(context.Background())
		if err != nil {
			t.Fatalf("task %d error = %v", i, err)
		}
		if v != i {
			t.Errorf("task %d returned %d", i, v)
		}
	}

	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d, want <= %d", got, workers)
	}
}

// TestPool_PanicIsolation verifies a panicking task resolves its own future
// with an error without killing the pool.
func TestPool_PanicIsolation(t *testing.T) {
	p := New[string](Config{Name: "panic", Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	bad, err := p.Submit(func(ctx context.Context) (string, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	good, err := p.Submit(func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := bad.Wait(context.Background()); err == nil {
		t.Fatal("panicking task resolved without error")
	}
	v, err := good.Wait(context.Background())
	if err != nil {
		t.Fatalf("task after panic error = %v", err)
	}
	if v != "ok" {
		t.Errorf("task after panic returned %q", v)
	}
}

// TestPool_QueueFull verifies Submit fails fast when the overflow queue has
// no room.
func TestPool_QueueFull(t *testing.T) {
	p := New[int](Config{Name: "full", Workers: 1, QueueSize: 2})

	// Not started: nothing consumes the queue.
	for i := 0; i < 2; i++ {
		if _, err := p.Submit(func(ctx context.Context) (int, error) { return 0, nil }); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	if _, err := p.Submit(func(ctx context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
}

// TestPool_Drain verifies Drain waits for queued work and rejects later
// submissions.
func TestPool_Drain(t *testing.T) {
	p := New[int](Config{Name: "drain", Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := p.Submit(func(ctx context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return 0, nil
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := p.Drain(drainCtx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if got := done.Load(); got != 5 {
		t.Errorf("completed = %d, want 5", got)
	}

	if _, err := p.Submit(func(ctx context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrDraining) {
		t.Errorf("Submit() after drain error = %v, want ErrDraining", err)
	}
}

// TestPool_CancelFlushesQueued verifies tasks still queued at shutdown
// resolve their futures with the context error instead of hanging.
func TestPool_CancelFlushesQueued(t *testing.T) {
	p := New[int](Config{Name: "flush", Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		p.Start(ctx)
	}()

	// First task blocks the lone worker.
	blocker, err := p.Submit(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	queued, err := p.Submit(func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-started
	cancel()
	close(release)
	<-poolDone

	if _, err := blocker.Wait(context.Background()); err != nil {
		t.Errorf("in-flight task error = %v, want nil", err)
	}
	if _, err := queued.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("queued task error = %v, want context.Canceled", err)
	}
}

// TestPool_SubmitRacingShutdownResolves hammers Submit while the pool shuts
// down: every future handed out must resolve, and once shutdown finished
// Submit must refuse rather than enqueue into a dead pool.
func TestPool_SubmitRacingShutdownResolves(t *testing.T) {
	p := New[int](Config{Name: "race", Workers: 2, QueueSize: 256})

	ctx, cancel := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		p.Start(ctx)
	}()

	var mu sync.Mutex
	var futures []*Future[int]
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				fut, err := p.Submit(func(ctx context.Context) (int, error) {
					return 1, nil
				})
				if errors.Is(err, ErrQueueFull) {
					continue
				}
				if err != nil {
					return
				}
				mu.Lock()
				futures = append(futures, fut)
				mu.Unlock()
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	cancel()
	<-poolDone
	close(stop)
	wg.Wait()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	for i, fut := range futures {
		fut.Wait(waitCtx)
		if waitCtx.Err() != nil {
			t.Fatalf("future %d of %d never resolved after shutdown", i, len(futures))
		}
	}

	if _, err := p.Submit(func(ctx context.Context) (int, error) { return 0, nil }); !errors.Is(err, ErrDraining) {
		t.Errorf("Submit() after shutdown error = %v, want ErrDraining", err)
	}
}
