// Package progress renders a single-line progress bar for a fuzz run.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Counts are the figures shown on the progress line.
type Counts struct {
	Done    int
	Total   int
	Passed  int
	Failed  int
	Errored int
	// Sequence describes the session cursor.
	Sequence string
}

// Display manages the progress line.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	startTime time.Time
	target    string
	lastLine  string
	last      Counts
}

// New creates a display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the progress line.
func (d *Display) Update(c Counts) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = c
	if !d.started || d.stopped {
		return
	}

	line := "\r" + render(c, time.Since(d.startTime))
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display, leaving the last line in place.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// Last returns the most recent counts.
func (d *Display) Last() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func render(c Counts, elapsed time.Duration) string {
	pct := 0
	if c.Total > 0 {
		pct = c.Done * 100 / c.Total
		if pct > 100 {
			pct = 100
		}
	}

	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(c.Done) / elapsed.Seconds()
	}

	const barWidth = 30
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("[%s] %3d%% | %d/%d | pass %d fail %d err %d | %.1f t/s | %s",
		bar, pct, c.Done, c.Total, c.Passed, c.Failed, c.Errored, speed, FormatDuration(elapsed))
	if c.Sequence != "" {
		line += " | " + truncate(c.Sequence, 60)
	}
	return line
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// FormatDuration formats a duration as 1h02m03s, 2m03s or 3s.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
