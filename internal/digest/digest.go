// Package digest implements a supplemented feature: an optional daily
// summary of completed/failed downloads and bytes transferred, pushed to
// notify_users on a cron schedule. Disabled by default; does not interact
// with the notification reconciler's per-record delivery.
package digest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/ariabot/ariabot/internal/history"
	otelpkg "github.com/ariabot/ariabot/internal/otel"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// HistoryStore is the subset of history.Store the digest needs.
type HistoryStore interface {
	List(ctx context.Context, page, pageSize int, status history.Status) (history.Page, error)
}

// Sender delivers the digest text to one chat.
type Sender interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// Config carries the digest scheduler's dependencies and tuning.
type Config struct {
	History     HistoryStore
	Sender      Sender
	NotifyUsers []int64
	Enabled     bool
	CronExpr    string // standard 5-field cron expression; default "0 9 * * *"
	Logger      *slog.Logger
	// Metrics is optional; when set, each fire is counted against it.
	Metrics *otelpkg.Metrics
}

// Scheduler fires the daily digest at the configured cron schedule.
type Scheduler struct {
	history     HistoryStore
	sender      Sender
	notifyUsers []int64
	enabled     bool
	cronExpr    string
	logger      *slog.Logger
	metrics     *otelpkg.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. An invalid CronExpr is caught here so startup
// fails fast instead of inside the loop.
func New(cfg Config) (*Scheduler, error) {
	cronExpr := cfg.CronExpr
	if cronExpr == "" {
		cronExpr = "0 9 * * *"
	}
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		history:     cfg.History,
		sender:      cfg.Sender,
		notifyUsers: cfg.NotifyUsers,
		enabled:     cfg.Enabled,
		cronExpr:    cronExpr,
		logger:      logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Start launches the background loop. A no-op if digests are disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("daily digest scheduler started", "cron", s.cronExpr)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("daily digest scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	schedule, err := cronParser.Parse(s.cronExpr)
	if err != nil {
		s.logger.Error("digest: invalid cron expression, scheduler exiting", "cron", s.cronExpr, "error", err)
		return
	}

	for {
		next := schedule.Next(nowFunc())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("digest: fire panicked", "panic", r)
		}
	}()

	summary, err := s.computeSummary(ctx)
	if err != nil {
		s.logger.Error("digest: failed to compute summary", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.DigestRuns.Add(ctx, 1)
	}

	text := formatDigest(summary)
	for _, userID := range s.notifyUsers {
		if err := s.sender.SendMessage(ctx, userID, text); err != nil {
			s.logger.Warn("digest: failed to deliver to recipient", "user_id", userID, "error", err)
		}
	}
}

var nowFunc = time.Now
