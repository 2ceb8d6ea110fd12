package skype

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDispatchWorkers is the dispatch pool size when none is
	// configured.
	DefaultDispatchWorkers = 16

	// poolQueueSize is the number of batches that may wait for a free
	// worker before Submit blocks the poll loop.
	poolQueueSize = 256
)

// task is one unit of dispatch work. It receives the pool's context,
// which is cancelled by ShutdownNow.
type task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines. Tasks are
// taken from a FIFO queue; with a single worker they run strictly in
// submission order.
type Pool struct {
	logger *slog.Logger
	queue  chan task
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	done   chan struct{}
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = DefaultDispatchWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		logger: logger,
		queue:  make(chan task, poolQueueSize),
		ctx:    ctx,
		cancel: cancel,
		g:      &errgroup.Group{},
		done:   make(chan struct{}),
	}

	for range workers {
		p.g.Go(p.work)
	}

	go func() {
		_ = p.g.Wait()
		close(p.done)
	}()

	return p
}

func (p *Pool) work() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case t := <-p.queue:
			// A task dequeued after shutdown is dropped, not run.
			if p.ctx.Err() != nil {
				return nil
			}

			p.run(t)
		}
	}
}

// run executes t, containing a panic so a bad handler cannot take the
// worker down with it.
func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch task panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	t(p.ctx)
}

// Submit queues t. It returns ErrPoolClosed once the pool is shut down.
// When the queue is full Submit waits for space.
func (p *Pool) Submit(t task) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.queue <- t:
		return nil
	}
}

// ShutdownNow stops the pool without running queued tasks. Tasks
// already running finish; their context is cancelled.
func (p *Pool) ShutdownNow() {
	p.cancel()
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// AwaitTermination blocks until every worker has exited or ctx is done.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatch pool: %w", ctx.Err())
	}
}
