package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/riptidehq/riptide/internal/policy"
	"github.com/riptidehq/riptide/internal/s3"
	"github.com/riptidehq/riptide/internal/transfer"
	"github.com/riptidehq/riptide/internal/utils"
)

// runS3 downloads an s3://bucket/key target, either one object or a whole
// prefix. The transfer manager does its own ranged parallelism, so the
// adaptive chunk size maps to its part size and the worker count to its
// part concurrency. Pause discards in-flight part progress (the manager
// cannot resume mid-object) but Resume restarts cleanly.
func (e *Engine) runS3(ctx context.Context, t *task) error {
	log := utils.GetLogger("engine")
	bucket, key, err := s3.ParseURL(t.target.URL)
	if err != nil {
		return err
	}
	client, err := s3.NewClient(ctx, e.cfg.S3Profile)
	if err != nil {
		return err
	}
	isFolder, size, err := client.Stat(ctx, bucket, key)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "s3").Str("id", t.id).Str("bucket", bucket).Str("key", key).
		Bool("folder", isFolder).Int64("size", size).Msg("Resolved S3 target")

	cfg := policy.Initial(size, e.cfg.Connections)
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.setSize(size)
	t.tracker.SetTotal(size)

	var outputPath string
	if isFolder {
		outputPath = t.target.OutputPath
		if outputPath == "" {
			outputPath = filepath.Base(key)
		}
	} else {
		outputPath = resolveOutputPath(t.target.OutputPath, filepath.Base(key))
		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return &transfer.FilesystemError{Path: dir, Err: err}
			}
		}
		t.setCleanup(func() {
			os.Remove(outputPath)
		})
	}
	t.tracker.SetOutputPath(outputPath)

	for {
		legCtx, cancelLeg := context.WithCancel(ctx)
		progressCh := make(chan int64, 256)
		var legBytes int64
		var pwg sync.WaitGroup
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for delta := range progressCh {
				legBytes += delta
				t.tracker.Add(delta)
			}
		}()
		t.setLeg(cancelLeg, nil)

		var legErr error
		if isFolder {
			var totalSize int64
			totalSize, legErr = client.DownloadPrefix(legCtx, bucket, key, outputPath, cfg.ChunkSize, cfg.Workers, progressCh)
			if legErr == nil {
				t.tracker.SetTotal(totalSize)
			}
		} else {
			legErr = client.Download(legCtx, bucket, key, outputPath, cfg.ChunkSize, cfg.Workers, progressCh)
		}
		close(progressCh)
		pwg.Wait()
		cancelLeg()
		paused := t.consumePause()
		if legErr == nil {
			return nil
		}
		if paused && !t.isCancelled() && ctx.Err() == nil {
			// The interrupted attempt's bytes are discarded, not resumed
			t.tracker.Add(-legBytes)
			if e.waitResume(ctx, t) {
				continue
			}
			return ctx.Err()
		}
		return legErr
	}
}
