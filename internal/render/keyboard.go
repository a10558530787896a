package render

import "fmt"

// Button is one inline keyboard button: a label and the callback_data
// payload sent back when tapped. The "action:value" grammar is parsed on
// the receiving end by internal/bot.
type Button struct {
	Label    string
	Callback string
}

// Keyboard is a grid of buttons, row-major. A nil/empty Keyboard means no
// keyboard should be attached to the message.
type Keyboard [][]Button

// TaskControlKeyboard builds the pause/resume/remove row attached to a live
// task detail message.
func TaskControlKeyboard(gid string) Keyboard {
	return Keyboard{
		{
			{Label: "⏸ Pause", Callback: "pause:" + gid},
			{Label: "▶️ Resume", Callback: "resume:" + gid},
			{Label: "❌ Remove", Callback: "remove:" + gid},
		},
	}
}

// PaginationKeyboard builds a first/prev/page-info/next/last row for a
// paginated view, omitting edges that don't apply.
func PaginationKeyboard(view string, page, totalPages int) Keyboard {
	if totalPages <= 1 {
		return Keyboard{{{Label: fmt.Sprintf("Page %d/%d", page, totalPages), Callback: "page_info:"}}}
	}

	var row []Button
	if page > 2 {
		row = append(row, Button{Label: "« First", Callback: fmt.Sprintf("%s:1", view)})
	}
	if page > 1 {
		row = append(row, Button{Label: "< Prev", Callback: fmt.Sprintf("%s:%d", view, page-1)})
	}
	row = append(row, Button{Label: fmt.Sprintf("%d/%d", page, totalPages), Callback: "page_info:"})
	if page < totalPages {
		row = append(row, Button{Label: "Next >", Callback: fmt.Sprintf("%s:%d", view, page+1)})
	}
	if page < totalPages-1 {
		row = append(row, Button{Label: "Last »", Callback: fmt.Sprintf("%s:%d", view, totalPages)})
	}
	return Keyboard{row}
}

// TotalPages returns how many pages totalItems splits into at itemsPerPage
// per page, always at least 1.
func TotalPages(totalItems, itemsPerPage int) int {
	if itemsPerPage <= 0 {
		itemsPerPage = 1
	}
	pages := (totalItems + itemsPerPage - 1) / itemsPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}
