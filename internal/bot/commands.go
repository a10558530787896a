package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	"github.com/ariabot/ariabot/internal/pagestate"
	"github.com/ariabot/ariabot/internal/render"
)

type commandFunc func(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string)

var commandTable = map[string]commandFunc{
	"start":         cmdStart,
	"help":          cmdHelp,
	"add":           cmdAdd,
	"status":        cmdStatus,
	"pause":         cmdPause,
	"unpause":       cmdUnpause,
	"remove":        cmdRemove,
	"pauseall":      cmdPauseAll,
	"unpauseall":    cmdUnpauseAll,
	"history":       cmdHistory,
	"clearhistory":  cmdClearHistory,
	"cancel":        cmdCancel,
	"globalstatus":  cmdGlobalStatus,
	"searchhistory": cmdSearchHistory,
}

const helpText = `❓ <b>ariabot help</b>

<b>Commands:</b>
/add &lt;url_or_magnet&gt; - add a download
/status [gid] - list tasks, or show one task's detail
/pause &lt;gid&gt; - pause a task
/unpause &lt;gid&gt; - resume a task
/remove &lt;gid&gt; - remove a task
/pauseall - pause every active task
/unpauseall - resume every paused task
/history - browse download history
/clearhistory - clear all history (asks for confirmation)
/globalstatus - show engine-wide stats
/searchhistory &lt;keyword&gt; - search download history
/help - show this message

<b>Tips:</b>
- task detail messages carry pause/resume/remove buttons
- a GID is the 16-hex id the engine assigns a task
- history and status views support paging`

func cmdStart(_ context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	c.sendHTML(msg.Chat.ID, "🎉 <b>Welcome to ariabot</b>\n\nUse /help to see all available commands.")
}

func cmdHelp(_ context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	c.sendHTML(msg.Chat.ID, helpText)
}

func cmdAdd(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	uri := strings.Fields(args)
	if len(uri) == 0 {
		c.sendHTML(msg.Chat.ID, "⚠️ <b>Error:</b> missing URL or magnet link\nUsage: <code>/add url_or_magnet</code>")
		return
	}
	url := uri[0]
	if !hasValidScheme(url) {
		c.sendHTML(msg.Chat.ID, "⚠️ <b>Error:</b> invalid URL or magnet link, must start with http://, https://, ftp:// or magnet:")
		return
	}

	sent := c.sendHTMLKeyboard(msg.Chat.ID, "⚙️ Adding download...", nil)

	gid, err := c.engine.Add(ctx, []string{url}, nil)
	if err != nil {
		c.editHTML(msg.Chat.ID, sent.MessageID, fmt.Sprintf("❌ <b>Failed to add download:</b> %s", render.EscapeHTML(err.Error())))
		return
	}

	snap, err := c.engine.Get(ctx, gid)
	name := "⏳ fetching..."
	status := "unknown"
	if err == nil {
		if snap.Name != "" {
			name = snap.Name
		}
		status = string(snap.Status)
	}

	text := fmt.Sprintf(
		"👍 <b>Download added!</b>\n\n<b>GID:</b> <code>%s</code>\n<b>Name:</b> %s\n<b>Status:</b> %s",
		gid, render.EscapeHTML(name), status,
	)
	c.editHTML(msg.Chat.ID, sent.MessageID, text)

	if sent.MessageID != 0 {
		c.monitor.Register(msg.Chat.ID, int64(sent.MessageID), gid)
	}
}

func hasValidScheme(uri string) bool {
	for _, scheme := range []string{"http://", "https://", "ftp://", "magnet:"} {
		if strings.HasPrefix(strings.ToLower(uri), scheme) {
			return true
		}
	}
	return false
}

func cmdStatus(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	gid := strings.TrimSpace(args)
	if gid != "" {
		cmdStatusOne(ctx, c, msg, gid)
		return
	}
	cmdStatusList(ctx, c, msg, 1)
}

func cmdStatusOne(ctx context.Context, c *Channel, msg *tgbotapi.Message, gid string) {
	if !validGID(gid) {
		c.sendHTML(msg.Chat.ID, "⚠️ <b>Error:</b> invalid GID format\nA GID is 16 hexadecimal characters")
		return
	}

	snap, err := c.engine.Get(ctx, gid)
	if err == nil {
		c.sendHTMLKeyboard(msg.Chat.ID, render.TaskDetail(snap), render.TaskControlKeyboard(gid))
		return
	}

	var notFound *engineclient.TaskNotFoundError
	if !errors.As(err, &notFound) {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Failed to query task:</b> %s", render.EscapeHTML(err.Error())))
		return
	}

	rec, herr := c.history.GetByGID(ctx, gid)
	if herr != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❓ <b>Error:</b> no task with GID <code>%s</code> (active or in history)", gid))
		return
	}
	c.sendHTML(msg.Chat.ID, render.HistoryList([]history.Record{rec}))
}

func cmdStatusList(ctx context.Context, c *Channel, msg *tgbotapi.Message, page int) {
	active, err := c.engine.ListActive(ctx)
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("🆘 <b>System error:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	waiting, err := c.engine.ListWaiting(ctx, 0, 1000)
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("🆘 <b>System error:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	all := append(active, waiting...)

	if len(all) == 0 {
		c.sendHTML(msg.Chat.ID, "📭 No active or waiting download tasks.")
		return
	}

	totalPages := render.TotalPages(len(all), c.itemsPerPage)
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start, end := pageBounds(page, c.itemsPerPage, len(all))
	pageItems := all[start:end]

	text := fmt.Sprintf("📋 <b>Download tasks</b> (%d total, page %d/%d)\n\n%s", len(all), page, totalPages, render.TaskList(pageItems))
	kb := render.PaginationKeyboard("status_page", page, totalPages)
	c.sendHTMLKeyboard(msg.Chat.ID, text, kb)

	c.pages.Put(pagestate.ViewStatus, msg.From.ID, pagestate.Cursor{Page: page, Total: totalPages})
}

func pageBounds(page, pageSize, total int) (int, int) {
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func cmdPause(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	gid := strings.TrimSpace(args)
	if !requireGID(c, msg.Chat.ID, gid, "/pause") {
		return
	}
	if err := c.engine.Pause(ctx, gid); err != nil {
		c.sendHTML(msg.Chat.ID, engineErrorText("pause", gid, err))
		return
	}
	c.sendHTML(msg.Chat.ID, fmt.Sprintf("⏸ <b>Task paused</b>\nGID: <code>%s</code>", gid))
}

func cmdUnpause(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	gid := strings.TrimSpace(args)
	if !requireGID(c, msg.Chat.ID, gid, "/unpause") {
		return
	}
	if err := c.engine.Resume(ctx, gid); err != nil {
		c.sendHTML(msg.Chat.ID, engineErrorText("resume", gid, err))
		return
	}
	c.sendHTML(msg.Chat.ID, fmt.Sprintf("▶️ <b>Task resumed</b>\nGID: <code>%s</code>", gid))
}

func cmdRemove(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	gid := strings.TrimSpace(args)
	if !requireGID(c, msg.Chat.ID, gid, "/remove") {
		return
	}
	removeTask(ctx, c, gid)
	c.sendHTML(msg.Chat.ID, fmt.Sprintf("🗑️ <b>Task removed</b>\nGID: <code>%s</code>", gid))
}

// removeTask fetches the last known snapshot (best-effort), removes the
// task on the engine, records the removal in history, and unregisters
// every monitor entry tracking gid across all chats.
func removeTask(ctx context.Context, c *Channel, gid string) {
	snap, _ := c.engine.Get(ctx, gid)

	if err := c.engine.Remove(ctx, gid); err != nil {
		c.logger.Warn("engine remove failed", "gid", gid, "error", err)
	}

	name := "unknown"
	var size int64
	var files []history.FileEntry
	if snap.GID != "" {
		name = snap.Name
		size = snap.TotalLength
		for _, f := range snap.Files {
			files = append(files, history.FileEntry{Path: f.Path, Name: f.Name})
		}
	}
	if _, err := c.history.Upsert(ctx, history.UpsertInput{
		GID: gid, Name: name, Status: history.StatusRemoved, Size: size, Files: files,
	}); err != nil {
		c.logger.Warn("failed to record removal in history", "gid", gid, "error", err)
	}

	c.monitor.UnregisterGID(gid)
}

func requireGID(c *Channel, chatID int64, gid, usage string) bool {
	if gid == "" {
		c.sendHTML(chatID, fmt.Sprintf("⚠️ <b>Error:</b> missing GID argument\nUsage: <code>%s gid</code>", usage))
		return false
	}
	if !validGID(gid) {
		c.sendHTML(chatID, "⚠️ <b>Error:</b> invalid GID format\nA GID is 16 hexadecimal characters")
		return false
	}
	return true
}

func engineErrorText(verb, gid string, err error) string {
	var notFound *engineclient.TaskNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Sprintf("❓ <b>Error:</b> no task with GID <code>%s</code>", gid)
	}
	return fmt.Sprintf("❌ <b>Failed to %s task:</b> %s", verb, render.EscapeHTML(err.Error()))
}

func cmdPauseAll(ctx context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	active, err := c.engine.ListActive(ctx)
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("🆘 <b>System error:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	if len(active) == 0 {
		c.sendHTML(msg.Chat.ID, "ℹ️ No active download tasks.")
		return
	}
	if err := c.engine.PauseAll(ctx); err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Failed to pause all tasks:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	c.sendHTML(msg.Chat.ID, fmt.Sprintf("⏸ <b>Paused all download tasks</b>\n%d tasks paused", len(active)))
}

func cmdUnpauseAll(ctx context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	if err := c.engine.ResumeAll(ctx); err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Failed to resume all tasks:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	c.sendHTML(msg.Chat.ID, "▶️ <b>Resumed all paused tasks</b>")
}

func cmdHistory(ctx context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	page, err := c.history.List(ctx, 1, c.itemsPerPage, "")
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Failed to load history:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	if page.Total == 0 {
		c.sendHTML(msg.Chat.ID, "📭 No download history.")
		return
	}
	totalPages := render.TotalPages(page.Total, c.itemsPerPage)
	text := fmt.Sprintf("📜 <b>Download history</b> (%d total, page 1/%d)\n\n%s", page.Total, totalPages, render.HistoryList(page.Records))
	kb := render.PaginationKeyboard("history_page", 1, totalPages)
	c.sendHTMLKeyboard(msg.Chat.ID, text, kb)
	c.pages.Put(pagestate.ViewHistory, msg.From.ID, pagestate.Cursor{Page: 1, Total: totalPages})
}

func cmdClearHistory(_ context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	kb := render.Keyboard{{
		{Label: "✅ Yes, clear it", Callback: "clear_history_confirm"},
		{Label: "❌ No, cancel", Callback: "clear_history_cancel"},
	}}
	sent := c.sendHTMLKeyboard(msg.Chat.ID,
		"🤔 <b>Confirm clear</b>\n\nAre you sure you want to clear all download history?\n<b>This cannot be undone.</b>",
		kb)
	c.beginConfirm(msg.From.ID, msg.Chat.ID, sent.MessageID)
}

func cmdCancel(_ context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	c.cancelConfirm(msg.From.ID)
	c.sendHTML(msg.Chat.ID, "🚫 <b>Cancelled</b>")
}

func cmdGlobalStatus(ctx context.Context, c *Channel, msg *tgbotapi.Message, _ string) {
	stats, err := c.engine.GlobalStats(ctx)
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Failed to get engine status:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	c.sendHTML(msg.Chat.ID, render.GlobalStatus(stats))
}

func cmdSearchHistory(ctx context.Context, c *Channel, msg *tgbotapi.Message, args string) {
	keyword := strings.TrimSpace(args)
	if keyword == "" {
		c.sendHTML(msg.Chat.ID, "⚠️ <b>Error:</b> missing search keyword\nUsage: <code>/searchhistory keyword</code>")
		return
	}
	page, err := c.history.Search(ctx, keyword, 1, c.itemsPerPage)
	if err != nil {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("❌ <b>Search failed:</b> %s", render.EscapeHTML(err.Error())))
		return
	}
	if page.Total == 0 {
		c.sendHTML(msg.Chat.ID, fmt.Sprintf("🔍 <b>No results</b>\nNothing matching <b>%s</b> found in history", render.EscapeHTML(keyword)))
		return
	}
	totalPages := render.TotalPages(page.Total, c.itemsPerPage)
	text := fmt.Sprintf("🔍 <b>Search results:</b> %s (%d total, page 1/%d)\n\n%s",
		render.EscapeHTML(keyword), page.Total, totalPages, render.HistoryList(page.Records))
	kb := render.PaginationKeyboard("search_page", 1, totalPages)
	c.sendHTMLKeyboard(msg.Chat.ID, text, kb)
	c.pages.Put(pagestate.ViewSearch, msg.From.ID, pagestate.Cursor{Page: 1, Total: totalPages, Keyword: keyword})
}
