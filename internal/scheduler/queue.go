package scheduler

import (
	"container/heap"
	"sync"
)

// FetchUnit is one schedulable piece of work: a byte range of a file or one
// media segment. Lower Priority values are more urgent; Index breaks ties so
// ordering among equal priorities stays deterministic.
type FetchUnit struct {
	URL        string
	OutputPath string
	Start      int64
	End        int64 // End < 0 means whole object, no range header
	Priority   int
	Index      int
	Retries    int
	Failed     bool
	Err        error
}

// IsRanged reports whether the unit carries a byte range.
func (u *FetchUnit) IsRanged() bool {
	return u.End >= 0
}

// Size returns the ranged unit's byte span, or -1 for whole objects.
func (u *FetchUnit) Size() int64 {
	if !u.IsRanged() {
		return -1
	}
	return u.End - u.Start + 1
}

type unitHeap []*FetchUnit

func (h unitHeap) Len() int { return len(h) }
func (h unitHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Index < h[j].Index
}
func (h unitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *unitHeap) Push(x any) {
	*h = append(*h, x.(*FetchUnit))
}

func (h *unitHeap) Pop() any {
	old := *h
	n := len(old)
	unit := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return unit
}

// Queue is a priority queue of fetch units shared by the worker pool.
// Close marks that no more work will arrive; workers combine that with
// drain-state polling to decide when to exit.
type Queue struct {
	mu     sync.Mutex
	heap   unitHeap
	closed bool
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(u *FetchUnit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.heap, u)
}

// Pop returns the most urgent unit, or false when the queue is empty.
func (q *Queue) Pop() (*FetchUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*FetchUnit), true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
