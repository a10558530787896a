// Package monitor implements C4, the background loop that keeps every chat
// message currently tracking a download in sync with the engine's
// authoritative state.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	otelpkg "github.com/ariabot/ariabot/internal/otel"
	"github.com/ariabot/ariabot/internal/render"
)

// Engine is the subset of engineclient.Client the monitor needs.
type Engine interface {
	Get(ctx context.Context, gid string) (engineclient.Snapshot, error)
}

// HistoryWriter is the subset of history.Store the monitor needs.
type HistoryWriter interface {
	Upsert(ctx context.Context, in history.UpsertInput) (int64, error)
}

// EditOutcome classifies the result of attempting to edit a chat message.
type EditOutcome int

const (
	EditOK EditOutcome = iota
	EditNotModified
	EditGone
	EditRetryAfter
	EditFailed
)

// Editor is the chat-side seam the monitor edits messages through.
// Implemented by internal/bot against the real Telegram API.
type Editor interface {
	EditLive(ctx context.Context, chatID, messageID int64, text string, kb render.Keyboard) (EditOutcome, time.Duration, error)
	EditFinal(ctx context.Context, chatID, messageID int64, text string) error
}

// Key identifies one chat message tracking a task.
type Key struct {
	ChatID    int64
	MessageID int64
}

type entry struct {
	gid              string
	lastRenderedText string
}

// Config carries Monitor's dependencies and tuning.
type Config struct {
	Engine   Engine
	History  HistoryWriter
	Editor   Editor
	Logger   *slog.Logger
	Interval time.Duration // tick period T; defaults to 5s
	MaxFetch int64         // bounded fan-out width; defaults to 8
	// Metrics is optional; when set, tick duration and edit outcomes are
	// recorded against it.
	Metrics *otelpkg.Metrics
}

// Monitor owns the (chat_id, message_id) -> gid registry and the loop that
// keeps every entry's message in sync.
type Monitor struct {
	engine  Engine
	history HistoryWriter
	editor  Editor
	logger  *slog.Logger
	metrics *otelpkg.Metrics

	interval time.Duration
	sem      *semaphore.Weighted

	mu       sync.Mutex
	entries  map[Key]entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Monitor. Call Start to begin the background loop.
func New(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxFetch := cfg.MaxFetch
	if maxFetch <= 0 {
		maxFetch = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		engine:   cfg.Engine,
		history:  cfg.History,
		editor:   cfg.Editor,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: interval,
		sem:      semaphore.NewWeighted(maxFetch),
		entries:  make(map[Key]entry),
	}
}

// Register starts tracking gid at (chatID, messageID), replacing any prior
// gid for that key and forcing the next tick to re-render unconditionally.
func (m *Monitor) Register(chatID, messageID int64, gid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key{chatID, messageID}] = entry{gid: gid}
}

// Unregister stops tracking the message at (chatID, messageID), if present.
func (m *Monitor) Unregister(chatID, messageID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key{chatID, messageID})
}

// UnregisterGID removes every entry currently tracking gid, across every
// chat. Used by the remove-by-user command path.
func (m *Monitor) UnregisterGID(gid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.gid == gid {
			delete(m.entries, k)
		}
	}
}

// Start launches the background loop. Idempotent: calling it again while
// already running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("task monitor started", "interval", m.interval)
}

// Stop cancels the loop and waits for the in-flight tick to finish or be
// abandoned.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("task monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		start := time.Now()
		backedOff := m.tickSafe(ctx)
		if ctx.Err() != nil {
			return
		}

		elapsed := time.Since(start)
		if m.metrics != nil {
			m.metrics.MonitorTickDuration.Record(ctx, float64(elapsed.Milliseconds()))
		}
		target := m.interval
		if backedOff {
			target = 2 * m.interval
		}
		sleepFor := target - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}
	}
}

// tickSafe runs one tick, converting a panic into a logged error and a
// single backed-off cycle, matching the loop's never-terminate contract.
func (m *Monitor) tickSafe(ctx context.Context) (backedOff bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task monitor tick panicked", "panic", r)
			backedOff = true
		}
	}()
	m.tick(ctx)
	return false
}

func (m *Monitor) snapshot() map[Key]entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[Key]entry, len(m.entries))
	for k, e := range m.entries {
		snap[k] = e
	}
	return snap
}

func (m *Monitor) tick(ctx context.Context) {
	current := m.snapshot()
	if len(current) == 0 {
		return
	}

	var wg sync.WaitGroup
	for key, e := range current {
		key, e := key, e
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.sem.Release(1)
			m.processEntry(ctx, key, e)
		}()
	}
	wg.Wait()
}
