// Package bot implements the Telegram channel: the command table, the
// action:value callback grammar, the /clearhistory confirmation flow, and
// the concrete monitor.Editor / notifier.Sender / digest.Sender
// implementations that the rest of the system depends on through narrow
// interfaces.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	otelpkg "github.com/ariabot/ariabot/internal/otel"
	"github.com/ariabot/ariabot/internal/pagestate"
	"github.com/ariabot/ariabot/internal/render"
)

// Engine is the subset of engineclient.Client the bot drives directly.
type Engine interface {
	Add(ctx context.Context, uris []string, options map[string]string) (string, error)
	Get(ctx context.Context, gid string) (engineclient.Snapshot, error)
	ListActive(ctx context.Context) ([]engineclient.Snapshot, error)
	ListWaiting(ctx context.Context, offset, limit int) ([]engineclient.Snapshot, error)
	Pause(ctx context.Context, gid string) error
	Resume(ctx context.Context, gid string) error
	Remove(ctx context.Context, gid string) error
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	GlobalStats(ctx context.Context) (engineclient.GlobalStats, error)
}

// HistoryStore is the subset of history.Store the bot needs.
type HistoryStore interface {
	Upsert(ctx context.Context, in history.UpsertInput) (int64, error)
	List(ctx context.Context, page, pageSize int, status history.Status) (history.Page, error)
	GetByGID(ctx context.Context, gid string) (history.Record, error)
	Search(ctx context.Context, keyword string, page, pageSize int) (history.Page, error)
	Clear(ctx context.Context) (int64, error)
}

// Monitor is the subset of monitor.Monitor the bot drives on command paths.
type Monitor interface {
	Register(chatID, messageID int64, gid string)
	Unregister(chatID, messageID int64)
	UnregisterGID(gid string)
}

// Pages is the subset of pagestate.Registry the bot needs.
type Pages interface {
	Put(view pagestate.View, userID int64, c pagestate.Cursor)
	Get(view pagestate.View, userID int64) (pagestate.Cursor, bool)
	Drop(view pagestate.View, userID int64)
	DropAll(userID int64)
}

// AuditLogger records authorization decisions. Nil is a valid, no-op value.
type AuditLogger interface {
	Record(userID int64, action string, allowed bool)
}

// senderAPI is the slice of *tgbotapi.BotAPI this package depends on. The
// seam lets tests substitute a fake instead of talking to Telegram.
type senderAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(u tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config carries the channel's dependencies and tuning.
type Config struct {
	Token        string
	AuthorizedID map[int64]struct{}
	Engine       Engine
	History      HistoryStore
	Monitor      Monitor
	Pages        Pages
	Audit        AuditLogger
	ItemsPerPage int
	Logger       *slog.Logger
	// Metrics is optional; when set, authorization denials are counted
	// against it.
	Metrics *otelpkg.Metrics

	// ConfirmTimeout bounds how long a /clearhistory confirmation prompt
	// stays live before it silently expires. Default 60s.
	ConfirmTimeout time.Duration
}

// Channel is the Telegram control surface: long-poll receive loop,
// command dispatch, callback dispatch, and outbound message/edit plumbing.
type Channel struct {
	token        string
	authorizedID map[int64]struct{}
	engine       Engine
	history      HistoryStore
	monitor      Monitor
	pages        Pages
	audit        AuditLogger
	itemsPerPage int
	logger       *slog.Logger
	metrics      *otelpkg.Metrics

	confirmTimeout time.Duration
	confirmMu      sync.Mutex
	confirm        map[int64]confirmEntry // userID -> pending /clearhistory confirmation

	api senderAPI
}

// SetMonitor wires the monitor after construction, breaking the
// construction-order cycle between Channel (which needs a Monitor) and
// monitor.Monitor (which needs an Editor implemented by *Channel).
func (c *Channel) SetMonitor(m Monitor) {
	c.monitor = m
}

// New constructs a Channel. Call Start to connect to Telegram.
func New(cfg Config) *Channel {
	itemsPerPage := cfg.ItemsPerPage
	if itemsPerPage <= 0 {
		itemsPerPage = 8
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		token:          cfg.Token,
		authorizedID:   cfg.AuthorizedID,
		engine:         cfg.Engine,
		history:        cfg.History,
		monitor:        cfg.Monitor,
		pages:          cfg.Pages,
		audit:          cfg.Audit,
		itemsPerPage:   itemsPerPage,
		logger:         logger,
		metrics:        cfg.Metrics,
		confirmTimeout: confirmTimeout,
		confirm:        make(map[int64]confirmEntry),
	}
}

// Start connects to Telegram and runs the long-poll receive loop until ctx
// is cancelled, reconnecting with exponential backoff on disconnect.
func (c *Channel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.api = bot
	c.logger.Info("telegram bot started", "user", bot.Self.UserName)

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = time.Second
	reconnect.MaxInterval = 30 * time.Second
	reconnect.MaxElapsedTime = 0 // retry forever; only ctx cancellation stops us

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)

		pollErr := c.pollUpdates(ctx, updates)
		bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}

		wait := reconnect.NextBackOff()
		c.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive for stallTimeout (the long-poll connection
// is presumed dead).
func (c *Channel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				c.handleMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				c.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (c *Channel) isAuthorized(userID int64) bool {
	_, ok := c.authorizedID[userID]
	return ok
}

func (c *Channel) recordDecision(userID int64, action string, allowed bool) {
	if c.audit != nil {
		c.audit.Record(userID, action, allowed)
	}
	if !allowed && c.metrics != nil {
		c.metrics.AuditDenies.Add(context.Background(), 1)
	}
}

func (c *Channel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(msg.Text), " ", 2)
	cmd := strings.TrimPrefix(strings.SplitN(parts[0], "@", 2)[0], "/")
	var argLine string
	if len(parts) > 1 {
		argLine = strings.TrimSpace(parts[1])
	}

	handler, ok := commandTable[cmd]
	if !ok {
		return
	}

	userID := msg.From.ID
	allowed := c.isAuthorized(userID)
	c.recordDecision(userID, "/"+cmd, allowed)
	if !allowed {
		c.logger.Warn("telegram access denied", "user_id", userID, "command", cmd)
		c.sendHTML(msg.Chat.ID, "🚫 <b>Unauthorized</b>\nYou are not allowed to use this bot.")
		return
	}

	// Command handlers may block on engine/history calls; running them on
	// their own goroutine keeps the long-poll loop responsive.
	go func() {
		defer c.recoverHandler("command:" + cmd)
		handler(ctx, c, msg, argLine)
	}()
}

func (c *Channel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	userID := query.From.ID
	action, value := parseCallbackData(query.Data)

	allowed := c.isAuthorized(userID)
	c.recordDecision(userID, "callback:"+action, allowed)
	if !allowed {
		c.answerCallback(query.ID, "🚫 Unauthorized", true)
		return
	}

	c.answerCallback(query.ID, "", false)
	go func() {
		defer c.recoverHandler("callback:" + action)
		c.dispatchCallback(ctx, query, action, value)
	}()
}

func (c *Channel) recoverHandler(label string) {
	if r := recover(); r != nil {
		c.logger.Error("bot handler panicked", "handler", label, "panic", r)
	}
}

func parseCallbackData(data string) (action, value string) {
	idx := strings.IndexByte(data, ':')
	if idx < 0 {
		return data, ""
	}
	return data[:idx], data[idx+1:]
}

// --- outbound helpers shared by commands.go / callbacks.go ---

func (c *Channel) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := c.api.Send(msg); err != nil {
		c.logger.Error("failed to send telegram message", "error", err)
	}
}

func (c *Channel) sendHTMLKeyboard(chatID int64, text string, kb render.Keyboard) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(kb) > 0 {
		markup := toInlineKeyboard(kb)
		msg.ReplyMarkup = &markup
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		c.logger.Error("failed to send telegram message", "error", err)
	}
	return sent
}

func (c *Channel) editHTML(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := c.api.Send(edit); err != nil {
		c.logger.Warn("failed to edit telegram message", "error", err)
	}
}

func (c *Channel) editHTMLKeyboard(chatID int64, messageID int, text string, kb render.Keyboard) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if len(kb) > 0 {
		markup := toInlineKeyboard(kb)
		edit.ReplyMarkup = &markup
	}
	if _, err := c.api.Send(edit); err != nil {
		c.logger.Warn("failed to edit telegram message", "error", err)
	}
}

func (c *Channel) answerCallback(callbackID, text string, alert bool) {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	if _, err := c.api.Request(cb); err != nil {
		c.logger.Warn("failed to answer callback query", "error", err)
	}
}

func toInlineKeyboard(kb render.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Callback))
		}
		rows = append(rows, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
