package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ariabot/ariabot/internal/monitor"
	"github.com/ariabot/ariabot/internal/render"
)

// EditLive implements monitor.Editor: edits a live task detail message in
// place, classifying the Telegram API's response into a monitor.EditOutcome
// so the monitor loop can decide whether to retry, retire, or keep polling.
func (c *Channel) EditLive(_ context.Context, chatID, messageID int64, text string, kb render.Keyboard) (monitor.EditOutcome, time.Duration, error) {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	edit.ParseMode = tgbotapi.ModeHTML
	markup := toInlineKeyboard(kb)
	edit.ReplyMarkup = &markup

	_, err := c.api.Send(edit)
	outcome, wait := classifyEditErr(err)
	if outcome == monitor.EditFailed {
		return outcome, 0, err
	}
	return outcome, wait, nil
}

// EditFinal implements monitor.Editor: rewrites the message one last time
// with no keyboard attached, for a task that has reached a terminal state.
func (c *Channel) EditFinal(_ context.Context, chatID, messageID int64, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := c.api.Send(edit)
	if err != nil {
		outcome, _ := classifyEditErr(err)
		if outcome == monitor.EditNotModified || outcome == monitor.EditGone {
			return nil
		}
	}
	return err
}

// SendMessage implements notifier.Sender and digest.Sender.
func (c *Channel) SendMessage(_ context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := c.api.Send(msg)
	return err
}

// classifyEditErr maps a Telegram API error to a monitor.EditOutcome.
// "message is not modified" is treated as success (Telegram refused the
// edit because nothing changed); a missing message/chat means the entry
// should be retired; a rate limit carries a wait duration to honor before
// the monitor's single retry.
func classifyEditErr(err error) (monitor.EditOutcome, time.Duration) {
	if err == nil {
		return monitor.EditOK, 0
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.ResponseParameters.RetryAfter > 0 {
			return monitor.EditRetryAfter, time.Duration(tgErr.ResponseParameters.RetryAfter) * time.Second
		}
		msg := strings.ToLower(tgErr.Message)
		if strings.Contains(msg, "message is not modified") {
			return monitor.EditNotModified, 0
		}
		if strings.Contains(msg, "message to edit not found") || strings.Contains(msg, "chat not found") {
			return monitor.EditGone, 0
		}
	}
	return monitor.EditFailed, 0
}
