package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/riptidehq/riptide/internal/policy"
	"github.com/riptidehq/riptide/internal/scheduler"
	"github.com/riptidehq/riptide/internal/transfer"
	"github.com/riptidehq/riptide/internal/utils"
)

// runFile downloads one plain HTTP(S) object. The probe decides between a
// single resumable stream and ranged chunking; range support is honored
// only when the server advertises it and the size clears the chunking
// threshold.
func (e *Engine) runFile(ctx context.Context, t *task) error {
	log := utils.GetLogger("engine")
	client := e.taskClient(t)

	info, err := transfer.Probe(t.target.URL, client)
	if err != nil {
		// Some servers reject HEAD outright; fall back to a blind
		// single-stream GET rather than failing the target here.
		log.Debug().Str("op", "probe").Str("id", t.id).Err(err).Msg("HEAD probe failed, assuming single stream")
		info = transfer.ObjectInfo{Size: -1}
	}

	outputPath := resolveOutputPath(t.target.OutputPath, deriveFileName(t.target.URL, info.FileName))
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &transfer.FilesystemError{Path: dir, Err: err}
		}
	}
	t.setCleanup(func() {
		os.Remove(outputPath)
	})

	t.tracker.SetOutputPath(outputPath)
	t.tracker.SetTotal(info.Size)
	t.setSize(info.Size)
	cfg := policy.Initial(info.Size, e.cfg.Connections)
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	if info.RangeSupported && cfg.UseChunking && info.Size > 0 {
		t.setKind(KindRangedFile)
		log.Debug().Str("op", "strategy").Str("id", t.id).Int64("size", info.Size).
			Int("workers", cfg.Workers).Int64("chunkSize", cfg.ChunkSize).Msg("Using ranged chunking")
		return e.runChunked(ctx, t, client, outputPath, info.Size)
	}
	log.Debug().Str("op", "strategy").Str("id", t.id).Int64("size", info.Size).Msg("Using single stream")
	return e.runStream(ctx, t, client, outputPath)
}

// runStream performs the single-connection path as a sequence of legs, one
// per pause/resume cycle. An existing partial file is the resume point and
// its length is credited to the tracker exactly once.
func (e *Engine) runStream(ctx context.Context, t *task, client utils.HTTPDoer, outputPath string) error {
	retry := e.retryFor(t)
	if fi, err := os.Stat(outputPath); err == nil {
		t.tracker.Add(fi.Size())
	}
	for {
		legCtx, cancelLeg := context.WithCancel(ctx)
		progressCh := make(chan int64, 64)
		var pwg sync.WaitGroup
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for delta := range progressCh {
				t.tracker.Add(delta)
			}
		}()
		t.setLeg(cancelLeg, nil)
		err := retry.Execute(legCtx, func(ctx context.Context) error {
			return transfer.SimpleDownload(ctx, t.target.URL, outputPath, client, t.currentConfig().BufferSize, progressCh)
		}, nil)
		close(progressCh)
		pwg.Wait()
		cancelLeg()
		paused := t.consumePause()
		if err == nil {
			return nil
		}
		if paused && !t.isCancelled() && ctx.Err() == nil {
			if e.waitResume(ctx, t) {
				continue
			}
			return ctx.Err()
		}
		return err
	}
}

// runChunked performs the ranged path. Fetch units are produced lazily so
// a retuned chunk size applies to chunks not yet dispatched, and every
// completed range is recorded so a resumed leg re-derives only the gaps.
func (e *Engine) runChunked(ctx context.Context, t *task, client utils.HTTPDoer, outputPath string, total int64) error {
	retry := e.retryFor(t)
	dest, err := transfer.PresizeDestination(outputPath, total)
	if err != nil {
		return &transfer.FilesystemError{Path: outputPath, Err: err}
	}
	defer dest.Close()

	for {
		remaining := remainingSpans(t.doneSpans(), total)
		if len(remaining) == 0 {
			break
		}
		paused, err := e.runChunkLeg(ctx, t, client, retry, dest, remaining)
		if err != nil {
			if paused && !t.isCancelled() && ctx.Err() == nil {
				if e.waitResume(ctx, t) {
					continue
				}
				return ctx.Err()
			}
			return err
		}
	}

	if covered := coveredBytes(t.doneSpans()); covered != total {
		return &transfer.InvariantViolation{
			URL:    t.target.URL,
			Reason: fmt.Sprintf("chunk coverage mismatch: %d of %d bytes written", covered, total),
		}
	}
	return dest.Sync()
}

// runChunkLeg runs one pool over the given gaps until drain, pause or
// failure. The bool return reports whether the leg stopped for a pause.
func (e *Engine) runChunkLeg(ctx context.Context, t *task, client utils.HTTPDoer, retry transfer.RetryPolicy, dest *os.File, gaps []span) (bool, error) {
	legCtx, cancelLeg := context.WithCancel(ctx)
	defer cancelLeg()

	progressCh := make(chan int64, 256)
	var pwg sync.WaitGroup
	pwg.Add(1)
	go func() {
		defer pwg.Done()
		for delta := range progressCh {
			t.tracker.Add(delta)
		}
	}()

	exec := scheduler.ExecutorFunc(func(ctx context.Context, unit *scheduler.FetchUnit) error {
		var attempts int
		err := retry.Execute(ctx, func(ctx context.Context) error {
			return transfer.DownloadRange(ctx, unit.URL, dest, unit.Start, unit.End, client, t.currentConfig().BufferSize, progressCh)
		}, &attempts)
		unit.Retries = attempts - 1
		return err
	})
	pool := scheduler.NewPool(exec, t.currentConfig().MaxConnections)

	var unitErrMu sync.Mutex
	var unitErr error
	pool.OnUnitDone = func(unit *scheduler.FetchUnit, err error) {
		if err == nil {
			t.markDone(span{unit.Start, unit.End})
			t.tracker.UnitDone()
			return
		}
		if errors.Is(err, context.Canceled) {
			// Leg interruption, not a unit failure; the range is
			// re-derived on the next leg
			return
		}
		// A single file needs every range; stop pulling new units
		unitErrMu.Lock()
		if unitErr == nil {
			unitErr = err
		}
		unitErrMu.Unlock()
		pool.RequestStop()
	}
	t.setLeg(cancelLeg, pool)

	go func() {
		defer pool.Close()
		index := 0
		for _, gap := range gaps {
			offset := gap.start
			for offset <= gap.end {
				if !e.throttleProducer(legCtx, t, pool) {
					return
				}
				end := offset + t.currentConfig().ChunkSize - 1
				if end > gap.end {
					end = gap.end
				}
				pool.Enqueue(&scheduler.FetchUnit{
					URL:      t.target.URL,
					Start:    offset,
					End:      end,
					Priority: index,
					Index:    index,
				})
				offset = end + 1
				index++
			}
		}
	}()

	runErr := pool.Run(legCtx, t.currentConfig().Workers)
	cancelLeg()
	close(progressCh)
	pwg.Wait()
	paused := t.consumePause()

	unitErrMu.Lock()
	uerr := unitErr
	unitErrMu.Unlock()
	if uerr != nil {
		return false, uerr
	}
	if runErr != nil {
		return paused, runErr
	}
	// A pause that raced with a natural drain leaves nothing to resume
	return false, nil
}

// throttleProducer keeps the number of outstanding units bounded so chunk
// sizing decisions stay close to dispatch time. Returns false when the leg
// is shutting down.
func (e *Engine) throttleProducer(ctx context.Context, t *task, pool *scheduler.Pool) bool {
	highWater := int64(t.currentConfig().Workers * 2)
	if highWater < 4 {
		highWater = 4
	}
	for pool.Enqueued()-pool.Completed()-pool.FailedUnits() >= highWater {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return ctx.Err() == nil
}
