// Package notifier implements C5, the periodic reconciler that pushes
// end-of-task notifications to authorized users and marks history records
// delivered.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ariabot/ariabot/internal/history"
	otelpkg "github.com/ariabot/ariabot/internal/otel"
)

// HistoryStore is the subset of history.Store the reconciler needs.
type HistoryStore interface {
	ListUnnotifiedTerminal(ctx context.Context) ([]history.Record, error)
	MarkNotified(ctx context.Context, gid string) (bool, error)
}

// Sender delivers one formatted message to one chat. Implemented by
// internal/bot against the real Telegram API.
type Sender interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// Config carries the reconciler's dependencies and tuning.
type Config struct {
	History     HistoryStore
	Sender      Sender
	NotifyUsers []int64
	Enabled     bool
	Logger      *slog.Logger
	Interval    time.Duration // period N; defaults to 30s
	Pace        time.Duration // minimum gap between records; defaults to 1s
	// Metrics is optional; when set, delivery outcomes are recorded against it.
	Metrics *otelpkg.Metrics
}

// Reconciler runs the C5 loop.
type Reconciler struct {
	history     HistoryStore
	sender      Sender
	notifyUsers []int64
	enabled     bool
	logger      *slog.Logger
	interval    time.Duration
	pace        time.Duration
	metrics     *otelpkg.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Reconciler.
func New(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pace := cfg.Pace
	if pace <= 0 {
		pace = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		history:     cfg.History,
		sender:      cfg.Sender,
		notifyUsers: cfg.NotifyUsers,
		enabled:     cfg.Enabled,
		logger:      logger,
		interval:    interval,
		pace:        pace,
		metrics:     cfg.Metrics,
	}
}

// Start launches the background loop.
func (r *Reconciler) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("notification reconciler started", "interval", r.interval, "enabled", r.enabled)
}

// Stop cancels the loop and waits for it to exit.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("notification reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification reconciler tick panicked", "panic", rec)
		}
	}()

	if !r.enabled {
		return
	}

	records, err := r.history.ListUnnotifiedTerminal(ctx)
	if err != nil {
		r.logger.Error("failed to list unnotified history records", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	for i, rec := range records {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pace):
			}
		}
		r.notifyOne(ctx, rec)
	}
}

func (r *Reconciler) notifyOne(ctx context.Context, rec history.Record) {
	text := formatNotification(rec)

	anySucceeded := false
	for _, userID := range r.notifyUsers {
		if err := r.sender.SendMessage(ctx, userID, text); err != nil {
			r.logger.Warn("failed to deliver notification", "gid", rec.GID, "user_id", userID, "error", err)
			if r.metrics != nil {
				r.metrics.NotifierFailures.Add(ctx, 1)
			}
			continue
		}
		anySucceeded = true
		if r.metrics != nil {
			r.metrics.NotifierSent.Add(ctx, 1)
		}
	}

	if !anySucceeded {
		return
	}
	if _, err := r.history.MarkNotified(ctx, rec.GID); err != nil {
		r.logger.Error("failed to mark history record notified", "gid", rec.GID, "error", err)
	}
}
