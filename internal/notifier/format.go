package notifier

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ariabot/ariabot/internal/history"
	"github.com/ariabot/ariabot/internal/render"
)

func formatNotification(rec history.Record) string {
	icon, label := "✅", "Download complete"
	if rec.Status == history.StatusError {
		icon, label = "❌", "Download failed"
	}

	text := fmt.Sprintf(
		"%s <b>%s</b>\n\n<b>Name:</b> %s\n<b>GID:</b> <code>%s</code>\n<b>Size:</b> %s\n<b>Time:</b> %s",
		icon, label,
		render.EscapeHTML(rec.Name), rec.GID, humanize.Bytes(uint64NonNegative(rec.Size)),
		rec.Timestamp.Format("2006-01-02 15:04:05"),
	)
	if rec.Status == history.StatusError && rec.ErrorMessage != "" {
		text += fmt.Sprintf("\n<b>Error:</b> %s", render.EscapeHTML(rec.ErrorMessage))
	}
	return text
}

func uint64NonNegative(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
