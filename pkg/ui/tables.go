package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"igfeed/pkg/models"
	"igfeed/pkg/scraper"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	s := table.StyleRounded
	s.Format.Header = text.FormatDefault
	t.SetStyle(s)
	return t
}

// RenderSummary prints the outcome of one run
func RenderSummary(out io.Writer, sum *scraper.Summary) {
	t := newTable(out)
	t.SetTitle("Run " + sum.RunID.String())
	t.AppendRows([]table.Row{
		{"Target", "@" + sum.Target},
		{"Identity", orDash(sum.Identity)},
		{"Status", statusText(sum.Status)},
		{"Considered", fmt.Sprintf("%d of %d", sum.Considered, sum.MaxItems)},
		{"Inserted", sum.Inserted},
		{"Duplicates", sum.Duplicates},
		{"Errors", sum.Errors},
		{"Duration", formatDuration(sum.Duration)},
	})
	if sum.Aborted {
		t.AppendRow(table.Row{"Aborted", sum.AbortKind.String()})
	}
	t.Render()
}

// RenderIdentities lists identities without their secrets
func RenderIdentities(out io.Writer, ids []models.Identity) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Handle", "Active", "Secret", "Last used", "Notes"})
	for _, id := range ids {
		active := Red("no")
		if id.Active {
			active = Green("yes")
		}
		secret := "inline"
		if strings.HasPrefix(id.Secret, "keyring:") {
			secret = "keyring"
		}
		t.AppendRow(table.Row{id.ID, id.Handle, active, secret, timeOrDash(id.LastUsedAt), Dim(lastLine(id.Notes))})
	}
	t.Render()
}

// RenderRuns lists recent run log entries
func RenderRuns(out io.Writer, runs []models.Run) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Started", "Target", "Identity", "Status", "New", "Dup", "Err", "Message"})
	for _, r := range runs {
		msg := r.Message
		if r.ErrorMessage != "" {
			msg = r.ErrorMessage
		}
		t.AppendRow(table.Row{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Target,
			r.IdentityHandle,
			statusText(r.Status),
			r.Inserted,
			r.Duplicates,
			r.Errors,
			Dim(truncate(msg, 60)),
		})
	}
	t.Render()
}

// RenderStats prints store totals
func RenderStats(out io.Writer, st *models.Stats) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Identities", "Active", "Items", "Unprocessed"})
	t.AppendRow(table.Row{st.Identities, st.ActiveIdentities, st.Items, st.PendingItems})
	t.Render()
}

func statusText(s models.RunStatus) string {
	switch s {
	case models.RunCompleted:
		return Green(string(s))
	case models.RunFailed:
		return Red(string(s))
	case models.RunInterrupted:
		return Yellow(string(s))
	default:
		return string(s)
	}
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return truncate(s, 60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
