package progress

// BatchSnapshot sums per-target counters and status counts across all
// concurrently tracked targets.
type BatchSnapshot struct {
	Targets    int
	Pending    int
	Active     int
	Paused     int
	Completed  int
	Failed     int
	Cancelled  int
	Downloaded int64
	Total      int64 // -1 if any target's total is unknown
	Speed      float64
}

func AggregateBatch(snaps []Snapshot) BatchSnapshot {
	batch := BatchSnapshot{Targets: len(snaps)}
	totalKnown := true
	for _, s := range snaps {
		switch s.Status {
		case StatusPending:
			batch.Pending++
		case StatusDownloading:
			batch.Active++
		case StatusPaused:
			batch.Paused++
		case StatusCompleted:
			batch.Completed++
		case StatusFailed:
			batch.Failed++
		case StatusCancelled:
			batch.Cancelled++
		}
		batch.Downloaded += s.Downloaded
		if s.Total < 0 {
			totalKnown = false
		} else {
			batch.Total += s.Total
		}
		batch.Speed += s.Speed
	}
	if !totalKnown {
		batch.Total = -1
	}
	return batch
}
