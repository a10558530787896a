// Package render holds pure, non-suspending formatting functions: progress
// bars, byte/speed/ETA humanization, HTML escaping, and the control
// keyboards attached to task and history messages. Nothing here performs
// I/O; every function is a value-in, value-out transform so it can be
// unit-tested without a bot or an engine.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
)

var statusLabel = map[engineclient.Status]string{
	engineclient.StatusActive:   "downloading",
	engineclient.StatusWaiting:  "waiting",
	engineclient.StatusPaused:   "paused",
	engineclient.StatusError:    "error",
	engineclient.StatusComplete: "complete",
	engineclient.StatusRemoved:  "removed",
}

var historyStatusLabel = map[history.Status]string{
	history.StatusCompleted: "complete",
	history.StatusError:     "error",
	history.StatusRemoved:   "removed",
}

// EscapeHTML escapes the characters Telegram's HTML parse mode requires
// escaped at render boundaries (& < >), mirroring Python's html.escape.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// ProgressBar renders a 10-cell filled/empty bar for a 0-100 percent value.
func ProgressBar(percent float64) string {
	if percent < 0 || percent > 100 {
		percent = 0
	}
	const width = 10
	filled := int(width * percent / 100)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// FormatETA renders a countdown duration, or "calculating..." once it's
// unknown (non-positive or implausibly large).
func FormatETA(seconds float64) string {
	if seconds <= 0 || seconds > 365*24*3600 {
		return "calculating..."
	}
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// truncateFilename shortens a name to maxLength, eliding the middle.
func truncateFilename(name string, maxLength int) string {
	if len(name) <= maxLength {
		return name
	}
	half := (maxLength - 3) / 2
	return name[:half] + "..." + name[len(name)-half:]
}

// TaskDetail renders the HTML body of a task's detail message: the
// repeatedly-edited message C4 keeps fresh while a task is active, and the
// final text once it reaches a terminal state.
func TaskDetail(snap engineclient.Snapshot) string {
	label, ok := statusLabel[snap.Status]
	if !ok {
		label = string(snap.Status)
	}

	lines := []string{
		fmt.Sprintf("<b>Name:</b> %s", EscapeHTML(nameOrUnknown(snap.Name))),
		fmt.Sprintf("<b>Status:</b> %s", label),
		fmt.Sprintf("<b>Size:</b> %s", humanize.Bytes(uint64OrZero(snap.TotalLength))),
	}

	if snap.ProgressPercent > 0 {
		lines = append(lines, fmt.Sprintf("<b>Progress:</b> %s %.1f%%", ProgressBar(snap.ProgressPercent), snap.ProgressPercent))
	}
	if snap.DownloadSpeed > 0 {
		lines = append(lines, fmt.Sprintf("<b>Down:</b> %s/s", humanize.Bytes(uint64OrZero(snap.DownloadSpeed))))
	}
	if snap.UploadSpeed > 0 {
		lines = append(lines, fmt.Sprintf("<b>Up:</b> %s/s", humanize.Bytes(uint64OrZero(snap.UploadSpeed))))
	}
	if snap.ETASeconds > 0 {
		lines = append(lines, fmt.Sprintf("<b>ETA:</b> %s", FormatETA(snap.ETASeconds)))
	}
	if snap.ErrorMessage != "" {
		lines = append(lines, fmt.Sprintf("<b>Error:</b> %s", EscapeHTML(snap.ErrorMessage)))
	}
	if len(snap.Files) > 0 {
		lines = append(lines, "<b>Files:</b>")
		for i, f := range snap.Files {
			if i >= 5 {
				lines = append(lines, fmt.Sprintf("...%d files total", len(snap.Files)))
				break
			}
			lines = append(lines, "- "+EscapeHTML(truncateFilename(f.Name, 30)))
		}
	}

	return fmt.Sprintf("<b>Task detail (GID: <code>%s</code>)</b>\n\n%s", snap.GID, strings.Join(lines, "\n"))
}

func nameOrUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func uint64OrZero(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// TaskList renders a numbered one-line-per-task summary for /status.
func TaskList(snaps []engineclient.Snapshot) string {
	if len(snaps) == 0 {
		return "No active tasks."
	}
	var b strings.Builder
	for i, s := range snaps {
		label, ok := statusLabel[s.Status]
		if !ok {
			label = string(s.Status)
		}
		fmt.Fprintf(&b, "%d. <b>%s</b> [<code>%s</code>] (%s)", i+1, EscapeHTML(truncateFilename(nameOrUnknown(s.Name), 30)), s.GID, label)
		if s.ProgressPercent > 0 {
			fmt.Fprintf(&b, " %.1f%%", s.ProgressPercent)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// HistoryList renders a numbered one-line-per-record summary for
// /history and /search results.
func HistoryList(records []history.Record) string {
	if len(records) == 0 {
		return "No history records."
	}
	var b strings.Builder
	for i, r := range records {
		label, ok := historyStatusLabel[r.Status]
		if !ok {
			label = string(r.Status)
		}
		fmt.Fprintf(&b, "%d. <b>%s</b> [<code>%s</code>] (%s) - %s",
			i+1, EscapeHTML(truncateFilename(nameOrUnknown(r.Name), 30)), r.GID, label,
			r.Timestamp.Format("2006-01-02 15:04:05"))
		if r.Status == history.StatusError && r.ErrorMessage != "" {
			fmt.Fprintf(&b, "\n   <i>Error: %s</i>", EscapeHTML(truncateFilename(r.ErrorMessage, 50)))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// GlobalStatus renders the /globalstatus detail view (supplemented feature).
func GlobalStatus(stats engineclient.GlobalStats) string {
	return fmt.Sprintf(
		"<b>Engine status</b>\n\n<b>Active:</b> %d\n<b>Waiting:</b> %d\n<b>Stopped:</b> %d\n<b>Down:</b> %s/s\n<b>Up:</b> %s/s\n<b>Version:</b> %s",
		stats.NumActive, stats.NumWaiting, stats.NumStopped,
		humanize.Bytes(uint64OrZero(stats.DownloadSpeed)), humanize.Bytes(uint64OrZero(stats.UploadSpeed)),
		nameOrUnknown(stats.Version),
	)
}
