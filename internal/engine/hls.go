package engine

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/riptidehq/riptide/internal/hls"
	"github.com/riptidehq/riptide/internal/policy"
	"github.com/riptidehq/riptide/internal/scheduler"
	"github.com/riptidehq/riptide/internal/transfer"
	"github.com/riptidehq/riptide/internal/utils"
)

// runHLS downloads an HLS target: resolve the manifest (selecting the
// highest-bandwidth variant when given a master), fetch every segment, and
// write local manifest mirrors a player can consume straight from disk.
// Any segment that exhausts its retry budget fails the whole target;
// a playlist with a silently missing segment is worse than a clean error.
func (e *Engine) runHLS(ctx context.Context, t *task) error {
	log := utils.GetLogger("engine")
	client := e.taskClient(t)
	retry := e.retryFor(t)

	manifestText, finalURL, err := e.fetchText(ctx, t.target.URL, client, retry)
	if err != nil {
		return err
	}
	baseURL, err := url.Parse(finalURL)
	if err != nil {
		return &hls.ManifestParseError{URL: finalURL, Reason: "unparseable manifest URL"}
	}

	mirrorPath := resolveOutputPath(t.target.OutputPath, deriveFileName(t.target.URL, ""))
	if !strings.HasSuffix(mirrorPath, ".m3u8") {
		mirrorPath += ".m3u8"
	}
	dir := filepath.Dir(mirrorPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &transfer.FilesystemError{Path: dir, Err: err}
	}
	t.tracker.SetOutputPath(mirrorPath)

	variantText := manifestText
	variantBase := baseURL
	variantName := strings.TrimSuffix(filepath.Base(mirrorPath), ".m3u8")
	var allVariants, masterVariants []hls.VariantPlaylist
	if hls.IsMaster(manifestText) {
		variants, err := hls.ParseMaster(manifestText, baseURL)
		if err != nil {
			return err
		}
		best := variants[0]
		log.Debug().Str("op", "hls").Str("id", t.id).Str("variant", best.URL).
			Int64("bandwidth", best.Bandwidth).Msg("Selected best variant")
		variantText, _, err = e.fetchText(ctx, best.URL, client, retry)
		if err != nil {
			return err
		}
		if variantBase, err = url.Parse(best.URL); err != nil {
			return &hls.ManifestParseError{URL: best.URL, Reason: "unparseable variant URL"}
		}
		variantName = strings.TrimSuffix(best.LocalName, ".m3u8")
		allVariants = variants
		masterVariants = variants[:1]
	}

	segments, err := hls.ParseVariant(variantText, variantBase, variantName)
	if err != nil {
		return err
	}
	t.tracker.SetUnitCount(len(segments))
	t.setCleanup(func() {
		for _, seg := range segments {
			os.Remove(filepath.Join(dir, seg.LocalName))
			os.Remove(filepath.Join(dir, utils.PartFilePrefix+seg.LocalName))
		}
		os.Remove(mirrorPath)
	})

	cfg := t.currentConfig()
	cfg.Workers = policy.SegmentWorkers
	if cfg.Workers > len(segments) {
		cfg.Workers = len(segments)
	}
	cfg.MaxConnections = e.cfg.Connections
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = policy.SmallBufferSize
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	for {
		paused, err := e.runSegmentLeg(ctx, t, client, retry, dir, segments)
		if err != nil {
			if paused && !t.isCancelled() && ctx.Err() == nil {
				if e.waitResume(ctx, t) {
					continue
				}
				return ctx.Err()
			}
			return err
		}
		break
	}

	if len(masterVariants) > 0 {
		variantMirror := filepath.Join(dir, masterVariants[0].LocalName)
		if err := writeMirrorFile(variantMirror, func(f *os.File) error {
			return hls.WriteVariantMirror(f, variantText, segments)
		}); err != nil {
			return err
		}
		return writeMirrorFile(mirrorPath, func(f *os.File) error {
			return hls.WriteMasterMirror(f, manifestText, allVariants, masterVariants)
		})
	}
	return writeMirrorFile(mirrorPath, func(f *os.File) error {
		return hls.WriteVariantMirror(f, variantText, segments)
	})
}

// runSegmentLeg drains one pool over the segments that are not already on
// disk. Segments download into hidden .part files and are renamed on
// success, so a leg interrupted mid-segment never leaves a truncated
// segment that a later leg would skip.
func (e *Engine) runSegmentLeg(ctx context.Context, t *task, client utils.HTTPDoer, retry transfer.RetryPolicy, dir string, segments []hls.SegmentDescriptor) (bool, error) {
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
		partPath := filepath.Join(dir, utils.PartFilePrefix+filepath.Base(unit.OutputPath))
		var attempts int
		err := retry.Execute(ctx, func(ctx context.Context) error {
			return transfer.SimpleDownload(ctx, unit.URL, partPath, client, t.currentConfig().BufferSize, progressCh)
		}, &attempts)
		unit.Retries = attempts - 1
		if err != nil {
			return err
		}
		if err := os.Rename(partPath, unit.OutputPath); err != nil {
			return &transfer.FilesystemError{Path: unit.OutputPath, Err: err}
		}
		return nil
	})
	pool := scheduler.NewPool(exec, t.currentConfig().MaxConnections)

	var unitErrMu sync.Mutex
	var unitErr error
	pool.OnUnitDone = func(unit *scheduler.FetchUnit, err error) {
		if err == nil {
			t.tracker.UnitDone()
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		unitErrMu.Lock()
		if unitErr == nil {
			unitErr = err
		}
		unitErrMu.Unlock()
		pool.RequestStop()
	}
	t.setLeg(cancelLeg, pool)

	enqueued := 0
	for _, seg := range segments {
		segPath := filepath.Join(dir, seg.LocalName)
		if fi, err := os.Stat(segPath); err == nil && fi.Size() > 0 {
			continue
		}
		pool.Enqueue(&scheduler.FetchUnit{
			URL:        seg.URL,
			OutputPath: segPath,
			End:        -1,
			Priority:   seg.Index,
			Index:      seg.Index,
		})
		enqueued++
	}
	pool.Close()
	if enqueued == 0 {
		close(progressCh)
		pwg.Wait()
		t.consumePause()
		return false, nil
	}

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
	return false, nil
}

func writeMirrorFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return &transfer.FilesystemError{Path: path, Err: err}
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
