package output

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/riptidehq/riptide/internal/progress"
	"github.com/riptidehq/riptide/internal/utils"
)

type targetDisplay struct {
	index     int
	snap      progress.Snapshot
	startTime time.Time
}

// Manager renders the live state of all targets in place, one line per
// target, redrawing on a fixed tick from the engine's snapshot stream.
type Manager struct {
	mu          sync.RWMutex
	targets     map[string]*targetDisplay
	targetCount int
	numLines    int
	displayTick time.Duration
	quiet       bool
}

func NewManager() *Manager {
	return &Manager{
		targets:     make(map[string]*targetDisplay),
		displayTick: 300 * time.Millisecond,
	}
}

// SetQuiet suppresses the live display; the final summary still prints.
func (m *Manager) SetQuiet(quiet bool) {
	m.quiet = quiet
}

// Run consumes the snapshot stream until it closes, then prints the final
// summary. It blocks; callers run it in its own goroutine alongside the
// engine.
func (m *Manager) Run(updates <-chan progress.Snapshot) {
	ticker := time.NewTicker(m.displayTick)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				m.redraw()
				m.Summary()
				return
			}
			m.apply(snap)
		case <-ticker.C:
			m.redraw()
		}
	}
}

func (m *Manager) apply(snap progress.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.targets[snap.ID]; ok {
		existing.snap = snap
		return
	}
	m.targetCount++
	m.targets[snap.ID] = &targetDisplay{
		index:     m.targetCount,
		snap:      snap,
		startTime: time.Now(),
	}
}

func (m *Manager) sorted() []*targetDisplay {
	all := make([]*targetDisplay, 0, len(m.targets))
	for _, t := range m.targets {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].index < all[j].index
	})
	return all
}

func (m *Manager) redraw() {
	if m.quiet {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	availableLines := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	lineCount := 0
	for _, t := range m.sorted() {
		if lineCount >= availableLines {
			break
		}
		fmt.Println(renderLine(t))
		lineCount++
	}
	m.numLines = lineCount
}

func renderLine(t *targetDisplay) string {
	snap := t.snap
	name := filepath.Base(snap.OutputPath)
	if name == "." || name == "" {
		name = snap.ID
	}
	indicator := statusIndicator(snap.Status.String())
	switch snap.Status {
	case progress.StatusDownloading:
		speed := debugStyle.Render(utils.FormatBytes(uint64(snap.Speed)) + "/s")
		if snap.Total > 0 {
			line := fmt.Sprintf("%s %s %s %s", indicator, name, ProgressBar(snap.Downloaded, snap.Total, 30), speed)
			if snap.ETA >= 0 {
				line += debugStyle.Render(fmt.Sprintf(" ETA %s", snap.ETA.Round(time.Second)))
			}
			return line
		}
		return fmt.Sprintf("%s %s %s %s", indicator, name, IndeterminateBar(utils.FormatBytes(uint64(max(snap.Downloaded, 0)))), speed)
	case progress.StatusPaused:
		return fmt.Sprintf("%s %s %s", indicator, name, warningStyle.Render(
			fmt.Sprintf("paused at %s", utils.FormatBytes(uint64(max(snap.Downloaded, 0))))))
	case progress.StatusCompleted:
		return fmt.Sprintf("%s %s %s", indicator, name, successStyle.Render(
			fmt.Sprintf("%s in %s", utils.FormatBytes(uint64(max(snap.Downloaded, 0))), time.Since(t.startTime).Round(time.Second))))
	case progress.StatusFailed:
		return fmt.Sprintf("%s %s %s", indicator, name, errorStyle.Render(snap.Err))
	case progress.StatusCancelled:
		return fmt.Sprintf("%s %s %s", indicator, name, debugStyle.Render("cancelled"))
	default:
		return fmt.Sprintf("%s %s %s", indicator, name, pendingStyle.Render("waiting"))
	}
}

// Summary prints one final line per target plus error details, after the
// live display has stopped.
func (m *Manager) Summary() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var completed, failed, cancelled int
	for _, t := range m.sorted() {
		switch t.snap.Status {
		case progress.StatusCompleted:
			completed++
		case progress.StatusFailed:
			failed++
			PrintError(fmt.Sprintf("%s %s: %s", StyleSymbols["fail"], t.snap.ID, t.snap.Err))
		case progress.StatusCancelled:
			cancelled++
		}
	}
	if len(m.targets) > 1 {
		PrintDetail(fmt.Sprintf("%d completed, %d failed, %d cancelled", completed, failed, cancelled))
	}
}
