package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ariabot/ariabot/internal/history"
)

// summary holds the day's aggregate counts.
type summary struct {
	Completed int
	Failed    int
	Bytes     int64
	Truncated bool
}

// maxScan bounds how many history rows one digest computation will read,
// newest first, so a very large history never makes the cron tick
// unboundedly slow.
const maxScan = 2000
const pageSize = 200

// computeSummary scans history newest-first until it passes today's
// start-of-day boundary or hits maxScan rows.
func (s *Scheduler) computeSummary(ctx context.Context) (summary, error) {
	var out summary
	dayStart := startOfDay(nowFunc())

	for page := 1; (page-1)*pageSize < maxScan; page++ {
		p, err := s.history.List(ctx, page, pageSize, "")
		if err != nil {
			return summary{}, fmt.Errorf("list history page %d: %w", page, err)
		}
		if len(p.Records) == 0 {
			break
		}

		doneScanning := false
		for _, r := range p.Records {
			if r.Timestamp.Before(dayStart) {
				doneScanning = true
				break
			}
			switch r.Status {
			case history.StatusCompleted:
				out.Completed++
				out.Bytes += r.Size
			case history.StatusError:
				out.Failed++
			}
		}
		if doneScanning {
			return out, nil
		}
		if page*pageSize >= maxScan {
			out.Truncated = true
		}
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatDigest(s summary) string {
	text := fmt.Sprintf(
		"📊 <b>Daily digest</b>\n\n<b>Completed:</b> %d\n<b>Failed:</b> %d\n<b>Transferred:</b> %s",
		s.Completed, s.Failed, humanize.Bytes(uint64NonNegative(s.Bytes)),
	)
	if s.Truncated {
		text += "\n\n<i>(scan limit reached, counts may be partial)</i>"
	}
	return text
}

func uint64NonNegative(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
