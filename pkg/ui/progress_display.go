package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"igfeed/pkg/ingest"
)

// ProgressDisplay prints one status line per considered item. In verbose
// mode every item gets its own line, otherwise a single line is redrawn.
type ProgressDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	target  string
	tracker *StatusTracker
	verbose bool
}

func NewProgressDisplay(out io.Writer, target string, maxItems int, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:     out,
		target:  target,
		tracker: NewStatusTracker(maxItems),
		verbose: verbose,
	}
}

// Item records the outcome of one slot
func (p *ProgressDisplay) Item(externalID string, outcome ingest.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.Record(outcome)
	if p.verbose {
		p.printItem(externalID, outcome, err)
		return
	}
	p.printProgress(externalID)
}

// Finish ends the redrawn line
func (p *ProgressDisplay) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose {
		fmt.Fprintln(p.out)
	}
}

// Tracker returns the counters collected so far
func (p *ProgressDisplay) Tracker() StatusTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.tracker
}

func (p *ProgressDisplay) printProgress(current string) {
	line := fmt.Sprintf("%s %s • %d new • %d seen",
		Cyan("@"+p.target),
		p.tracker.Bar(20),
		p.tracker.Inserted,
		p.tracker.Duplicates,
	)
	if p.tracker.Errors > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", p.tracker.Errors))
	}
	if current != "" {
		line += " • " + Dim(current)
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

func (p *ProgressDisplay) printItem(externalID string, outcome ingest.Outcome, err error) {
	if externalID == "" {
		externalID = "(page)"
	}
	switch outcome {
	case ingest.Inserted:
		fmt.Fprintf(p.out, "%s %s\n", Green("✓"), externalID)
	case ingest.SkippedDuplicate:
		fmt.Fprintf(p.out, "%s %s %s\n", Dim("="), externalID, Dim("already stored"))
	default:
		fmt.Fprintf(p.out, "%s %s %v\n", Red("✗"), externalID, err)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
