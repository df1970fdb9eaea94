package engine

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/riptidehq/riptide/internal/policy"
	"github.com/riptidehq/riptide/internal/progress"
	"github.com/riptidehq/riptide/internal/scheduler"
)

// Kind is the transfer strategy a target is tagged with at submission time.
// File targets start as KindWholeFile and are upgraded to KindRangedFile
// when the probe shows range support on a large enough object.
type Kind int

const (
	KindWholeFile Kind = iota
	KindRangedFile
	KindHLSManifest
	KindS3Object
)

func (k Kind) String() string {
	switch k {
	case KindWholeFile:
		return "whole-file"
	case KindRangedFile:
		return "ranged-file"
	case KindHLSManifest:
		return "hls-manifest"
	case KindS3Object:
		return "s3-object"
	}
	return "unknown"
}

// Target is one download submission. Fields are set by the caller and are
// not mutated after Submit; live state lives on the task, not here.
type Target struct {
	URL         string
	OutputPath  string
	Headers     map[string]string
	RetryBudget int // 0 means the engine default, negative disables retries
	Timeout     time.Duration
}

// classifyTarget tags the target once at submission so no later code path
// needs to re-inspect the URL.
func classifyTarget(link string) Kind {
	if strings.HasPrefix(link, "s3://") {
		return KindS3Object
	}
	parsed, err := url.Parse(link)
	if err == nil && strings.HasSuffix(strings.ToLower(parsed.Path), ".m3u8") {
		return KindHLSManifest
	}
	return KindWholeFile
}

// span is an inclusive byte range [start, end] within one object.
type span struct {
	start, end int64
}

// task is one live download in the engine's arena. Its fields are mutated
// only under mu or through the tracker's own synchronization.
type task struct {
	id     string
	target Target
	kind   Kind

	tracker *progress.Tracker
	cancel  context.CancelFunc // hard cancel for the whole target

	mu        sync.Mutex
	cfg       policy.Config
	size      int64
	pool      *scheduler.Pool
	pauseLeg  context.CancelFunc
	wantPause bool
	cancelled bool
	resumeCh  chan struct{}
	completed []span // successfully written ranges, chunked mode only
	cleanup   func() // removes partial data on cancel
}

func (t *task) setKind(k Kind) {
	t.mu.Lock()
	t.kind = k
	t.mu.Unlock()
}

func (t *task) getKind() Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

func (t *task) setSize(size int64) {
	t.mu.Lock()
	t.size = size
	t.mu.Unlock()
}

func (t *task) objectSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *task) setCleanup(fn func()) {
	t.mu.Lock()
	t.cleanup = fn
	t.mu.Unlock()
}

func (t *task) runCleanup() {
	t.mu.Lock()
	fn := t.cleanup
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *task) setLeg(cancelLeg context.CancelFunc, pool *scheduler.Pool) {
	t.mu.Lock()
	t.pauseLeg = cancelLeg
	t.pool = pool
	t.mu.Unlock()
}

func (t *task) currentConfig() policy.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *task) setConfig(cfg policy.Config) {
	t.mu.Lock()
	t.cfg = cfg
	pool := t.pool
	t.mu.Unlock()
	if pool != nil {
		pool.SetWorkerTarget(cfg.Workers)
	}
}

func (t *task) markDone(s span) {
	t.mu.Lock()
	t.completed = append(t.completed, s)
	t.mu.Unlock()
}

func (t *task) doneSpans() []span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]span, len(t.completed))
	copy(out, t.completed)
	return out
}

// requestPause interrupts the running leg without touching partial data.
func (t *task) requestPause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pauseLeg == nil || t.wantPause {
		return false
	}
	t.wantPause = true
	t.pauseLeg()
	return true
}

func (t *task) requestCancel() {
	t.mu.Lock()
	t.cancelled = true
	resumeCh := t.resumeCh
	t.mu.Unlock()
	t.cancel()
	if resumeCh != nil {
		select {
		case resumeCh <- struct{}{}:
		default:
		}
	}
}

func (t *task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// consumePause reports whether the leg stopped because of a pause request
// and clears the flag for the next leg.
func (t *task) consumePause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	paused := t.wantPause
	t.wantPause = false
	t.pauseLeg = nil
	t.pool = nil
	return paused
}

// mergeSpans collapses sorted-or-not inclusive spans into a minimal
// non-overlapping ascending list.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]span, len(spans))
	copy(sorted, spans)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].start < sorted[j-1].start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	merged := sorted[:1]
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end+1 {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// remainingSpans returns the complement of done within [0, total).
func remainingSpans(done []span, total int64) []span {
	var gaps []span
	cursor := int64(0)
	for _, s := range mergeSpans(done) {
		if s.start > cursor {
			gaps = append(gaps, span{cursor, s.start - 1})
		}
		if s.end+1 > cursor {
			cursor = s.end + 1
		}
	}
	if cursor < total {
		gaps = append(gaps, span{cursor, total - 1})
	}
	return gaps
}

// coveredBytes sums the lengths of the merged done spans.
func coveredBytes(done []span) int64 {
	var n int64
	for _, s := range mergeSpans(done) {
		n += s.end - s.start + 1
	}
	return n
}

// deriveFileName picks the destination file name for a plain file target:
// an explicit output path wins, then the server-suggested name, then the
// last URL path element.
func deriveFileName(link, serverName string) string {
	if serverName != "" {
		return serverName
	}
	parsed, err := url.Parse(link)
	if err == nil {
		if base := filepath.Base(parsed.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "download"
}
