package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolDrainsAllUnits(t *testing.T) {
	var executed atomic.Int64
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		executed.Add(1)
		return nil
	}), 4)
	for i := 0; i < 20; i++ {
		pool.Enqueue(&FetchUnit{Priority: i, Index: i})
	}
	pool.Close()
	if err := pool.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if executed.Load() != 20 {
		t.Errorf("executed = %d, want 20", executed.Load())
	}
	if pool.Completed() != 20 || pool.FailedUnits() != 0 {
		t.Errorf("completed=%d failed=%d", pool.Completed(), pool.FailedUnits())
	}
}

func TestPoolUnitFailureDoesNotAbortBatch(t *testing.T) {
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		if unit.Index == 3 {
			return errors.New("transfer failed")
		}
		return nil
	}), 2)
	var failed []*FetchUnit
	var mu sync.Mutex
	pool.OnUnitDone = func(unit *FetchUnit, err error) {
		if err != nil {
			mu.Lock()
			failed = append(failed, unit)
			mu.Unlock()
		}
	}
	for i := 0; i < 10; i++ {
		pool.Enqueue(&FetchUnit{Index: i})
	}
	pool.Close()
	if err := pool.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pool.Completed() != 9 || pool.FailedUnits() != 1 {
		t.Errorf("completed=%d failed=%d, want 9/1", pool.Completed(), pool.FailedUnits())
	}
	if len(failed) != 1 || !failed[0].Failed || failed[0].Err == nil {
		t.Errorf("failed unit not reported: %+v", failed)
	}
}

func TestPoolConnectionCap(t *testing.T) {
	var inFlight, highWater atomic.Int64
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		n := inFlight.Add(1)
		for {
			hw := highWater.Load()
			if n <= hw || highWater.CompareAndSwap(hw, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}), 2)
	for i := 0; i < 12; i++ {
		pool.Enqueue(&FetchUnit{Index: i})
	}
	pool.Close()
	if err := pool.Run(context.Background(), 8); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hw := highWater.Load(); hw > 2 {
		t.Errorf("connection high-water mark %d exceeds cap 2", hw)
	}
}

func TestPoolHardCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}), 4)
	for i := 0; i < 4; i++ {
		pool.Enqueue(&FetchUnit{Index: i})
	}
	pool.Close()
	go func() {
		<-started
		cancel()
	}()
	if err := pool.Run(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestPoolGracefulStop(t *testing.T) {
	var executed atomic.Int64
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		executed.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}), 1)
	for i := 0; i < 50; i++ {
		pool.Enqueue(&FetchUnit{Index: i})
	}
	pool.Close()
	go func() {
		time.Sleep(25 * time.Millisecond)
		pool.RequestStop()
	}()
	if err := pool.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := executed.Load(); n == 0 || n == 50 {
		t.Errorf("graceful stop executed %d units, expected partial drain", n)
	}
}

func TestPoolWorkerResize(t *testing.T) {
	block := make(chan struct{})
	var concurrent, highWater atomic.Int64
	pool := NewPool(ExecutorFunc(func(ctx context.Context, unit *FetchUnit) error {
		n := concurrent.Add(1)
		for {
			hw := highWater.Load()
			if n <= hw || highWater.CompareAndSwap(hw, n) {
				break
			}
		}
		<-block
		concurrent.Add(-1)
		return nil
	}), 16)
	for i := 0; i < 16; i++ {
		pool.Enqueue(&FetchUnit{Index: i})
	}
	pool.Close()
	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background(), 1) }()

	time.Sleep(20 * time.Millisecond)
	pool.SetWorkerTarget(4)
	time.Sleep(50 * time.Millisecond)
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hw := highWater.Load(); hw < 2 {
		t.Errorf("worker growth never took effect, high-water mark %d", hw)
	}
}
