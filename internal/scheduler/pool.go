package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Executor performs one fetch unit. The retry controller wraps the raw
// transfer, so an error returned here is the unit's permanent failure.
type Executor interface {
	Execute(ctx context.Context, unit *FetchUnit) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, unit *FetchUnit) error

func (f ExecutorFunc) Execute(ctx context.Context, unit *FetchUnit) error {
	return f(ctx, unit)
}

// Pool drains the priority queue with a bounded set of workers. The
// connection semaphore caps simultaneous transfers separately from the
// worker count, since connections are the costlier resource. The worker
// target can change between units; surplus workers drain naturally.
type Pool struct {
	queue   *Queue
	exec    Executor
	connSem *semaphore.Weighted

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	target  int
	active  int
	started bool
	ctx     context.Context
	wg      sync.WaitGroup

	stopped atomic.Bool

	pollInterval time.Duration

	// OnUnitDone, if set, observes every finished unit (err is nil on
	// success). Called from worker goroutines.
	OnUnitDone func(unit *FetchUnit, err error)
}

func NewPool(exec Executor, maxConnections int) *Pool {
	if maxConnections < 1 {
		maxConnections = 1
	}
	return &Pool{
		queue:        NewQueue(),
		exec:         exec,
		connSem:      semaphore.NewWeighted(int64(maxConnections)),
		pollInterval: 50 * time.Millisecond,
	}
}

func (p *Pool) Enqueue(unit *FetchUnit) {
	p.enqueued.Add(1)
	p.queue.Push(unit)
}

// Close marks that no more units will arrive; the pool finishes once the
// queue drains.
func (p *Pool) Close() {
	p.queue.Close()
}

// RequestStop drains gracefully: in-flight units finish, queued units stay
// unprocessed.
func (p *Pool) RequestStop() {
	p.stopped.Store(true)
}

func (p *Pool) Completed() int64 { return p.completed.Load() }
func (p *Pool) FailedUnits() int64 {
	return p.failed.Load()
}
func (p *Pool) Enqueued() int64 { return p.enqueued.Load() }

// Run blocks until every enqueued unit is accounted for, the pool is
// stopped, or ctx is cancelled (hard stop, in-flight work abandoned via
// context propagation).
func (p *Pool) Run(ctx context.Context, workers int) error {
	p.mu.Lock()
	p.ctx = ctx
	p.started = true
	p.mu.Unlock()
	p.SetWorkerTarget(workers)
	p.wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// SetWorkerTarget adjusts the advisory worker count. Growth spawns workers
// immediately; shrink lets surplus workers exit after their current unit.
func (p *Pool) SetWorkerTarget(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = n
	if !p.started || p.ctx == nil {
		return
	}
	for p.active < p.target {
		p.active++
		p.wg.Add(1)
		go p.worker(p.ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil || p.stopped.Load() {
			p.exitWorker()
			return
		}
		if p.surplus() {
			return
		}
		unit, ok := p.queue.Pop()
		if !ok {
			if p.drained() {
				p.exitWorker()
				return
			}
			select {
			case <-ctx.Done():
				p.exitWorker()
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if err := p.connSem.Acquire(ctx, 1); err != nil {
			// Hard stop while waiting for a connection slot
			p.queue.Push(unit)
			p.exitWorker()
			return
		}
		err := p.exec.Execute(ctx, unit)
		p.connSem.Release(1)
		if err != nil {
			unit.Failed = true
			unit.Err = err
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if p.OnUnitDone != nil {
			p.OnUnitDone(unit, err)
		}
	}
}

// drained reports that no more work will arrive and every unit finished.
func (p *Pool) drained() bool {
	return p.queue.Closed() && p.completed.Load()+p.failed.Load() == p.enqueued.Load()
}

// surplus lets a worker above the current target retire, decrementing the
// active count on the way out.
func (p *Pool) surplus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > p.target {
		p.active--
		return true
	}
	return false
}

func (p *Pool) exitWorker() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}
