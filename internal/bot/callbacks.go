package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ariabot/ariabot/internal/pagestate"
	"github.com/ariabot/ariabot/internal/render"
)

func (c *Channel) dispatchCallback(ctx context.Context, query *tgbotapi.CallbackQuery, action, value string) {
	switch action {
	case "pause":
		c.callbackPause(ctx, query, value)
	case "resume":
		c.callbackResume(ctx, query, value)
	case "remove":
		c.callbackRemove(ctx, query, value)
	case "history_page":
		c.callbackHistoryPage(ctx, query, value)
	case "search_page":
		c.callbackSearchPage(ctx, query, value)
	case "status_page":
		c.callbackStatusPage(ctx, query, value)
	case "page_info":
		// info button; already answered in handleCallbackQuery.
	case "clear_history_confirm":
		c.callbackClearHistoryConfirm(ctx, query)
	case "clear_history_cancel":
		c.callbackClearHistoryCancel(query)
	default:
		c.logger.Warn("unknown callback action", "action", action)
	}
}

func (c *Channel) callbackPause(ctx context.Context, query *tgbotapi.CallbackQuery, gid string) {
	if err := c.engine.Pause(ctx, gid); err != nil {
		c.answerCallback(query.ID, "❌ Pause failed: "+truncate(err.Error(), 150), true)
		return
	}
	c.refreshTaskDetail(ctx, query, gid)
}

func (c *Channel) callbackResume(ctx context.Context, query *tgbotapi.CallbackQuery, gid string) {
	if err := c.engine.Resume(ctx, gid); err != nil {
		c.answerCallback(query.ID, "❌ Resume failed: "+truncate(err.Error(), 150), true)
		return
	}
	c.refreshTaskDetail(ctx, query, gid)
}

func (c *Channel) refreshTaskDetail(ctx context.Context, query *tgbotapi.CallbackQuery, gid string) {
	if query.Message == nil {
		return
	}
	snap, err := c.engine.Get(ctx, gid)
	if err != nil {
		c.editHTML(query.Message.Chat.ID, query.Message.MessageID, fmt.Sprintf("❌ Task <code>%s</code> no longer exists.", gid))
		return
	}
	c.editHTMLKeyboard(query.Message.Chat.ID, query.Message.MessageID, render.TaskDetail(snap), render.TaskControlKeyboard(gid))
}

func (c *Channel) callbackRemove(ctx context.Context, query *tgbotapi.CallbackQuery, gid string) {
	removeTask(ctx, c, gid)
	if query.Message == nil {
		return
	}
	c.editHTML(query.Message.Chat.ID, query.Message.MessageID, fmt.Sprintf("🗑️ <b>Task removed</b>\nGID: <code>%s</code>", gid))
}

func (c *Channel) callbackHistoryPage(ctx context.Context, query *tgbotapi.CallbackQuery, value string) {
	page, ok := parsePageNumber(value)
	if !ok {
		c.answerCallback(query.ID, "⚠️ Invalid page number", true)
		return
	}
	result, err := c.history.List(ctx, page, c.itemsPerPage, "")
	if err != nil {
		c.answerCallback(query.ID, "❌ Failed to load history: "+truncate(err.Error(), 150), true)
		return
	}
	totalPages := render.TotalPages(result.Total, c.itemsPerPage)
	text := fmt.Sprintf("📜 <b>Download history</b> (%d total, page %d/%d)\n\n%s", result.Total, page, totalPages, render.HistoryList(result.Records))
	kb := render.PaginationKeyboard("history_page", page, totalPages)
	c.editMessageForQuery(query, text, kb)
	c.pages.Put(pagestate.ViewHistory, query.From.ID, pagestate.Cursor{Page: page, Total: totalPages})
}

func (c *Channel) callbackSearchPage(ctx context.Context, query *tgbotapi.CallbackQuery, value string) {
	page, ok := parsePageNumber(value)
	if !ok {
		c.answerCallback(query.ID, "⚠️ Invalid page number", true)
		return
	}
	cursor, ok := c.pages.Get(pagestate.ViewSearch, query.From.ID)
	if !ok || cursor.Keyword == "" {
		c.answerCallback(query.ID, "⏳ Search session expired, please search again", true)
		return
	}
	result, err := c.history.Search(ctx, cursor.Keyword, page, c.itemsPerPage)
	if err != nil {
		c.answerCallback(query.ID, "❌ Search failed: "+truncate(err.Error(), 150), true)
		return
	}
	totalPages := render.TotalPages(result.Total, c.itemsPerPage)
	text := fmt.Sprintf("🔍 <b>Search results:</b> %s (%d total, page %d/%d)\n\n%s",
		render.EscapeHTML(cursor.Keyword), result.Total, page, totalPages, render.HistoryList(result.Records))
	kb := render.PaginationKeyboard("search_page", page, totalPages)
	c.editMessageForQuery(query, text, kb)
	c.pages.Put(pagestate.ViewSearch, query.From.ID, pagestate.Cursor{Page: page, Total: totalPages, Keyword: cursor.Keyword})
}

func (c *Channel) callbackStatusPage(ctx context.Context, query *tgbotapi.CallbackQuery, value string) {
	page, ok := parsePageNumber(value)
	if !ok {
		c.answerCallback(query.ID, "⚠️ Invalid page number", true)
		return
	}

	active, err := c.engine.ListActive(ctx)
	if err != nil {
		c.answerCallback(query.ID, "❌ Failed to query tasks: "+truncate(err.Error(), 150), true)
		return
	}
	waiting, err := c.engine.ListWaiting(ctx, 0, 1000)
	if err != nil {
		c.answerCallback(query.ID, "❌ Failed to query tasks: "+truncate(err.Error(), 150), true)
		return
	}
	all := append(active, waiting...)
	if len(all) == 0 {
		c.editMessageForQuery(query, "📭 <b>No active or waiting download tasks</b>", nil)
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

	text := fmt.Sprintf("📋 <b>Download tasks</b> (%d total, page %d/%d)\n\n%s", len(all), page, totalPages, render.TaskList(all[start:end]))
	kb := render.PaginationKeyboard("status_page", page, totalPages)
	c.editMessageForQuery(query, text, kb)
	c.pages.Put(pagestate.ViewStatus, query.From.ID, pagestate.Cursor{Page: page, Total: totalPages})
}

func (c *Channel) callbackClearHistoryConfirm(ctx context.Context, query *tgbotapi.CallbackQuery) {
	entry, ok := c.takeConfirm(query.From.ID)
	if !ok || query.Message == nil || entry.messageID != query.Message.MessageID {
		c.answerCallback(query.ID, "⏳ Confirmation expired, run /clearhistory again", true)
		return
	}
	c.editHTML(entry.chatID, entry.messageID, "⚙️ Clearing history...")
	count, err := c.history.Clear(ctx)
	if err != nil {
		c.editHTML(entry.chatID, entry.messageID, "❌ <b>Failed to clear history:</b> "+render.EscapeHTML(err.Error()))
		return
	}
	c.editHTML(entry.chatID, entry.messageID, fmt.Sprintf("🗑️ <b>History cleared</b>\n%d records deleted", count))
}

func (c *Channel) callbackClearHistoryCancel(query *tgbotapi.CallbackQuery) {
	c.cancelConfirm(query.From.ID)
	if query.Message == nil {
		return
	}
	c.editHTML(query.Message.Chat.ID, query.Message.MessageID, "🚫 <b>Cancelled</b>\nHistory was not cleared")
}

func (c *Channel) editMessageForQuery(query *tgbotapi.CallbackQuery, text string, kb render.Keyboard) {
	if query.Message == nil {
		return
	}
	c.editHTMLKeyboard(query.Message.Chat.ID, query.Message.MessageID, text, kb)
}

func parsePageNumber(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
