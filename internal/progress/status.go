package progress

import "time"

type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is the only state the engine exposes to external collaborators.
// Total and Percent are -1 while the total size is unknown; ETA is -1 while
// indeterminate.
type Snapshot struct {
	ID         string
	OutputPath string
	Downloaded int64
	Total      int64
	Percent    float64
	Speed      float64 // smoothed bytes/sec
	ETA        time.Duration
	Status     Status
	Err        string
}
