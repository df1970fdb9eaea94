package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/riptidehq/riptide/internal/policy"
	"github.com/riptidehq/riptide/internal/progress"
	"github.com/riptidehq/riptide/internal/transfer"
	"github.com/riptidehq/riptide/internal/utils"
)

const manifestSizeLimit = 10 * 1024 * 1024

// Config carries engine-wide knobs. Zero values fall back to the defaults
// in New; the HTTP client is injectable so tests can substitute a fake
// transport.
type Config struct {
	Connections          int   // per-target connection cap
	MaxConcurrentTargets int64 // batch-level concurrency cap
	Retry                transfer.RetryPolicy
	Client               utils.HTTPDoer
	ClientConfig         utils.HTTPClientConfig // used when Client is nil and for per-target header clients
	MonitorInterval      time.Duration
	S3Profile            string
}

// Engine owns the arena of live downloads. One engine serves a whole
// process; the HTTP transport underneath it is shared across all targets
// for connection reuse.
type Engine struct {
	cfg      Config
	client   utils.HTTPDoer
	retry    transfer.RetryPolicy
	batchSem *semaphore.Weighted
	updates  chan progress.Snapshot

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once

	mu    sync.Mutex
	tasks map[string]*task
	order []string
}

func New(cfg Config) *Engine {
	if cfg.Connections <= 0 {
		cfg.Connections = 64
	}
	if cfg.MaxConcurrentTargets <= 0 {
		cfg.MaxConcurrentTargets = 4
	}
	if cfg.Retry == (transfer.RetryPolicy{}) {
		cfg.Retry = transfer.DefaultRetryPolicy()
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 500 * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		client = utils.NewHTTPClient(cfg.ClientConfig)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		client:   client,
		retry:    cfg.Retry,
		batchSem: semaphore.NewWeighted(cfg.MaxConcurrentTargets),
		updates:  make(chan progress.Snapshot, 64),
		ctx:      ctx,
		stop:     stop,
		tasks:    make(map[string]*task),
	}
}

// Submit begins a download and returns its opaque id. A target whose URL is
// already active is rejected with accepted=false, not an error.
func (e *Engine) Submit(target Target) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return "", false
	}
	for _, id := range e.order {
		existing := e.tasks[id]
		if existing.target.URL == target.URL && !existing.tracker.Status().Terminal() {
			return "", false
		}
	}

	id := uuid.New().String()
	var ctx context.Context
	var cancel context.CancelFunc
	if target.Timeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, target.Timeout)
	} else {
		ctx, cancel = context.WithCancel(e.ctx)
	}
	t := &task{
		id:       id,
		target:   target,
		kind:     classifyTarget(target.URL),
		tracker:  progress.NewTracker(id, target.OutputPath, -1, e.updates),
		cancel:   cancel,
		resumeCh: make(chan struct{}, 1),
	}
	e.tasks[id] = t
	e.order = append(e.order, id)
	e.wg.Add(1)
	go e.run(ctx, t)
	return id, true
}

// BatchSubmit fans a list of targets into the engine under the shared
// batch-level concurrency cap. The returned ids are positionally aligned
// with the input; a rejected target yields an empty id.
func (e *Engine) BatchSubmit(targets []Target) []string {
	ids := make([]string, len(targets))
	for i, target := range targets {
		ids[i], _ = e.Submit(target)
	}
	return ids
}

// Pause stops a Downloading target without deleting partial data. Unknown
// ids and invalid transitions return false.
func (e *Engine) Pause(id string) bool {
	t, ok := e.lookup(id)
	if !ok || t.tracker.Status() != progress.StatusDownloading {
		return false
	}
	return t.requestPause()
}

// Resume re-enters the transfer path of a Paused target from its preserved
// partial data.
func (e *Engine) Resume(id string) bool {
	t, ok := e.lookup(id)
	if !ok || t.tracker.Status() != progress.StatusPaused {
		return false
	}
	select {
	case t.resumeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Cancel aborts a target and deletes its partial data. Unlike Pause, there
// is no way back from Cancelled.
func (e *Engine) Cancel(id string) bool {
	t, ok := e.lookup(id)
	if !ok || t.tracker.Status().Terminal() {
		return false
	}
	t.requestCancel()
	return true
}

func (e *Engine) Status(id string) (progress.Snapshot, bool) {
	t, ok := e.lookup(id)
	if !ok {
		return progress.Snapshot{}, false
	}
	return t.tracker.Snapshot(), true
}

// BatchStatus aggregates every tracked target into one combined snapshot.
// The second return is false when nothing has been submitted.
func (e *Engine) BatchStatus() (progress.BatchSnapshot, bool) {
	e.mu.Lock()
	snaps := make([]progress.Snapshot, 0, len(e.order))
	for _, id := range e.order {
		snaps = append(snaps, e.tasks[id].tracker.Snapshot())
	}
	e.mu.Unlock()
	if len(snaps) == 0 {
		return progress.BatchSnapshot{}, false
	}
	return progress.AggregateBatch(snaps), true
}

// ProgressUpdates is the push stream of coalesced snapshots across all
// targets. The channel closes after Close.
func (e *Engine) ProgressUpdates() <-chan progress.Snapshot {
	return e.updates
}

// Wait blocks until every submitted target has reached a terminal state.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels anything still running, waits for the runners to exit and
// closes the update stream. The engine accepts no submissions afterwards.
func (e *Engine) Close() {
	e.closed.Do(func() {
		e.stop()
		e.wg.Wait()
		close(e.updates)
	})
}

func (e *Engine) lookup(id string) (*task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

// taskClient returns the shared client, or a dedicated one when the target
// carries its own headers.
func (e *Engine) taskClient(t *task) utils.HTTPDoer {
	if len(t.target.Headers) == 0 {
		return e.client
	}
	cfg := e.cfg.ClientConfig
	cfg.Headers = nil
	client := utils.NewHTTPClient(cfg)
	for k, v := range e.cfg.ClientConfig.Headers {
		client.SetHeader(k, v)
	}
	for k, v := range t.target.Headers {
		client.SetHeader(k, v)
	}
	return client
}

func (e *Engine) retryFor(t *task) transfer.RetryPolicy {
	p := e.retry
	if t.target.RetryBudget > 0 {
		p.MaxRetries = t.target.RetryBudget
	} else if t.target.RetryBudget < 0 {
		p.MaxRetries = 0
	}
	return p
}

// run drives one target from Pending to a terminal state. It owns the
// task's status transitions; the per-kind paths only report errors.
func (e *Engine) run(ctx context.Context, t *task) {
	defer e.wg.Done()
	log := utils.GetLogger("engine")

	monitorDone := make(chan struct{})
	defer close(monitorDone)
	go e.monitor(t, monitorDone)

	if err := e.batchSem.Acquire(ctx, 1); err != nil {
		e.finish(t, ctx.Err())
		return
	}
	defer e.batchSem.Release(1)
	if t.isCancelled() {
		e.finish(t, ctx.Err())
		return
	}

	t.tracker.SetStatus(progress.StatusDownloading)
	log.Debug().Str("op", "run").Str("id", t.id).Str("url", t.target.URL).
		Str("kind", t.getKind().String()).Msg("Starting download")

	var err error
	switch t.getKind() {
	case KindHLSManifest:
		err = e.runHLS(ctx, t)
	case KindS3Object:
		err = e.runS3(ctx, t)
	default:
		err = e.runFile(ctx, t)
	}
	e.finish(t, err)
}

func (e *Engine) finish(t *task, err error) {
	log := utils.GetLogger("engine")
	switch {
	case t.isCancelled():
		t.runCleanup()
		t.tracker.Finish(progress.StatusCancelled, nil)
		log.Debug().Str("op", "finish").Str("id", t.id).Msg("Download cancelled")
	case errors.Is(err, context.Canceled):
		// Engine shutdown, not a user cancel: keep partial data for resume
		t.tracker.Finish(progress.StatusCancelled, nil)
		log.Debug().Str("op", "finish").Str("id", t.id).Msg("Download aborted by shutdown")
	case err != nil:
		t.tracker.Finish(progress.StatusFailed, err)
		log.Error().Str("op", "finish").Str("id", t.id).Err(err).Msg("Download failed")
	default:
		t.tracker.Finish(progress.StatusCompleted, nil)
		log.Debug().Str("op", "finish").Str("id", t.id).Msg("Download completed")
	}
}

// monitor samples throughput on a fixed tick and, for ranged targets,
// feeds the smoothed measurements back into the adaptive policy. It stops
// with its target so no periodic task outlives a terminal state.
func (e *Engine) monitor(t *task, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.tracker.Sample()
			if t.getKind() != KindRangedFile {
				continue
			}
			cfg := t.currentConfig()
			next := policy.Recompute(cfg, t.objectSize(), t.tracker.SmoothedSpeed(), t.tracker.PeakSpeed())
			if next != cfg {
				t.setConfig(next)
			}
		}
	}
}

// waitResume parks a paused leg until Resume, Cancel or engine shutdown.
// It returns false when the target should stop instead of re-entering.
func (e *Engine) waitResume(ctx context.Context, t *task) bool {
	t.tracker.SetStatus(progress.StatusPaused)
	t.tracker.Sample()
	select {
	case <-t.resumeCh:
		if t.isCancelled() {
			return false
		}
		t.tracker.SetStatus(progress.StatusDownloading)
		return true
	case <-ctx.Done():
		return false
	}
}

// fetchText downloads a small text resource (a manifest) with retries,
// returning the body and the final URL after redirects.
func (e *Engine) fetchText(ctx context.Context, link string, client utils.HTTPDoer, retry transfer.RetryPolicy) (string, string, error) {
	var body, finalURL string
	err := retry.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
		if err != nil {
			return fmt.Errorf("error creating GET request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return &transfer.TransferError{URL: link, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &transfer.TransferError{URL: link, StatusCode: resp.StatusCode}
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, manifestSizeLimit))
		if err != nil {
			return &transfer.TransferError{URL: link, Err: err}
		}
		body = string(raw)
		finalURL = link
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}
		return nil
	}, nil)
	return body, finalURL, err
}

// resolveOutputPath turns the submitted output path into a concrete file
// path, treating an existing directory (or a trailing separator) as a
// directory to place fileName in.
func resolveOutputPath(outputPath, fileName string) string {
	if outputPath == "" {
		return fileName
	}
	if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		return filepath.Join(outputPath, fileName)
	}
	if outputPath[len(outputPath)-1] == filepath.Separator || outputPath[len(outputPath)-1] == '/' {
		return filepath.Join(outputPath, fileName)
	}
	return outputPath
}
