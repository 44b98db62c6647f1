package ui

import (
	"fmt"
	"strings"
	"time"

	"igfeed/pkg/ingest"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker counts the slots of one run against its cap
type StatusTracker struct {
	Max        int
	Considered int
	Inserted   int
	Duplicates int
	Errors     int
	StartTime  time.Time
}

func NewStatusTracker(max int) *StatusTracker {
	return &StatusTracker{Max: max, StartTime: time.Now()}
}

// Record counts one considered slot
func (st *StatusTracker) Record(outcome ingest.Outcome) {
	st.Considered++
	switch outcome {
	case ingest.Inserted:
		st.Inserted++
	case ingest.SkippedDuplicate:
		st.Duplicates++
	default:
		st.Errors++
	}
}

// Bar renders considered slots as a fixed width bar
func (st *StatusTracker) Bar(width int) string {
	filled := 0
	if st.Max > 0 {
		filled = st.Considered * width / st.Max
	}
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s] %d/%d",
		strings.Repeat(ProgressBar, filled)+strings.Repeat(ProgressEmpty, width-filled),
		st.Considered, st.Max)
}

func (st *StatusTracker) Elapsed() time.Duration {
	return time.Since(st.StartTime)
}

// Rate returns inserted items per minute
func (st *StatusTracker) Rate() float64 {
	elapsed := st.Elapsed().Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(st.Inserted) / elapsed
}

// Done reports whether the cap has been reached
func (st *StatusTracker) Done() bool {
	return st.Considered >= st.Max
}
