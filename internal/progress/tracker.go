package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	speedWindowSize = 10
	// Minimum completed units before inferring an unknown total
	minUnitsForEstimate = 3
)

// DefaultEmitInterval rate-limits periodic snapshot emission. Terminal
// snapshots are always emitted regardless of the interval.
var DefaultEmitInterval = 300 * time.Millisecond

// Tracker aggregates byte and unit events for one target. Add is safe to
// call from any number of workers; everything else is coordinated through
// the tracker's own lock.
type Tracker struct {
	id string

	downloaded atomic.Int64

	mu         sync.Mutex
	outputPath string
	total      int64 // -1 while unknown
	estimate   int64 // inferred total, only refines upward
	unitsTotal int
	unitsDone  int
	status     Status
	errMsg     string

	samples []float64 // rolling speed window
	next    int
	filled  int
	peak    float64

	lastSampleTime  time.Time
	lastSampleBytes int64
	lastEmit        time.Time

	updates chan Snapshot
}

func NewTracker(id, outputPath string, total int64, updates chan Snapshot) *Tracker {
	if total <= 0 {
		total = -1
	}
	return &Tracker{
		id:             id,
		outputPath:     outputPath,
		total:          total,
		estimate:       -1,
		status:         StatusPending,
		samples:        make([]float64, speedWindowSize),
		lastSampleTime: time.Now(),
		updates:        updates,
	}
}

// Add records bytes transferred by any in-flight unit. Negative deltas are
// allowed so a discarded partial chunk can be subtracted before its retry.
func (t *Tracker) Add(n int64) {
	t.downloaded.Add(n)
}

func (t *Tracker) Downloaded() int64 {
	return t.downloaded.Load()
}

// SetOutputPath records the resolved destination once it is known; the
// submitted path may have been a directory or empty.
func (t *Tracker) SetOutputPath(path string) {
	t.mu.Lock()
	t.outputPath = path
	t.mu.Unlock()
}

func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total > 0 {
		t.total = total
	}
}

// SetUnitCount declares how many fetch units make up the target, enabling
// lazy total estimation when the byte total is unknown.
func (t *Tracker) SetUnitCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unitsTotal = n
}

func (t *Tracker) UnitDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unitsDone++
}

func (t *Tracker) SetStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Sample takes one throughput measurement and, if the emit interval has
// elapsed, pushes a snapshot to subscribers. Called on the owning monitor's
// tick, never concurrently with itself.
func (t *Tracker) Sample() {
	now := time.Now()
	bytes := t.downloaded.Load()

	t.mu.Lock()
	elapsed := now.Sub(t.lastSampleTime).Seconds()
	if elapsed > 0 {
		speed := float64(bytes-t.lastSampleBytes) / elapsed
		if speed < 0 {
			speed = 0
		}
		t.samples[t.next] = speed
		t.next = (t.next + 1) % len(t.samples)
		if t.filled < len(t.samples) {
			t.filled++
		}
		if speed > t.peak {
			t.peak = speed
		}
		t.lastSampleTime = now
		t.lastSampleBytes = bytes
	}
	emit := now.Sub(t.lastEmit) >= DefaultEmitInterval
	if emit {
		t.lastEmit = now
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if emit {
		t.send(snap)
	}
}

// SmoothedSpeed is the rolling-window average in bytes/sec.
func (t *Tracker) SmoothedSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.smoothedLocked()
}

// PeakSpeed is the highest interval measurement seen, used as the capacity
// ceiling estimate for the adaptive policy.
func (t *Tracker) PeakSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// Finish records a terminal status and unconditionally emits the final
// snapshot so consumers can reliably detect completion.
func (t *Tracker) Finish(s Status, err error) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = s
	if err != nil {
		t.errMsg = err.Error()
	}
	if s == StatusCompleted && t.total > 0 {
		t.downloaded.Store(t.total)
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.sendFinal(snap)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) smoothedLocked() float64 {
	if t.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < t.filled; i++ {
		sum += t.samples[i]
	}
	return sum / float64(t.filled)
}

func (t *Tracker) snapshotLocked() Snapshot {
	downloaded := t.downloaded.Load()
	total := t.total
	if total <= 0 && t.unitsTotal > 0 && t.unitsDone >= minUnitsForEstimate {
		est := downloaded / int64(t.unitsDone) * int64(t.unitsTotal)
		// The estimate never decreases, so progress cannot regress
		if est > t.estimate {
			t.estimate = est
		}
		total = t.estimate
	}
	if total <= 0 {
		total = -1
	}
	percent := float64(-1)
	if total > 0 {
		percent = float64(downloaded) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}
	}
	speed := t.smoothedLocked()
	eta := time.Duration(-1)
	if t.status == StatusCompleted {
		eta = 0
	} else if total > 0 && speed > 0 {
		remaining := total - downloaded
		if remaining < 0 {
			remaining = 0
		}
		eta = time.Duration(float64(remaining)/speed) * time.Second
	}
	return Snapshot{
		ID:         t.id,
		OutputPath: t.outputPath,
		Downloaded: downloaded,
		Total:      total,
		Percent:    percent,
		Speed:      speed,
		ETA:        eta,
		Status:     t.status,
		Err:        t.errMsg,
	}
}

func (t *Tracker) send(snap Snapshot) {
	if t.updates == nil {
		return
	}
	select {
	case t.updates <- snap:
	default:
		// Slow consumer, drop the periodic update
	}
}

// sendFinal never drops: if the channel is full it evicts the oldest
// snapshot so the terminal one always lands.
func (t *Tracker) sendFinal(snap Snapshot) {
	if t.updates == nil {
		return
	}
	for {
		select {
		case t.updates <- snap:
			return
		default:
		}
		select {
		case <-t.updates:
		default:
		}
	}
}
