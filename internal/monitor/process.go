package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	"github.com/ariabot/ariabot/internal/render"
)

// processEntry fetches gid's authoritative state and reconciles the tracked
// message. Every failure path here is per-entry: it logs and returns,
// never propagating to the tick loop.
func (m *Monitor) processEntry(ctx context.Context, key Key, e entry) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task monitor entry panicked", "gid", e.gid, "panic", r)
		}
	}()

	snap, err := m.engine.Get(ctx, e.gid)
	if err != nil {
		m.handleFetchError(ctx, key, e, err)
		return
	}

	if m.stillRegistered(key) {
		m.reconcile(ctx, key, snap)
	}
}

func (m *Monitor) stillRegistered(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *Monitor) handleFetchError(ctx context.Context, key Key, e entry, err error) {
	var notFound *engineclient.TaskNotFoundError
	if errors.As(err, &notFound) {
		m.logger.Info("task no longer known to engine, treating as finished", "gid", e.gid)
		_ = m.editor.EditFinal(ctx, key.ChatID, key.MessageID, finishedOrRemovedText(e.gid))
		m.Unregister(key.ChatID, key.MessageID)
		return
	}

	var connErr *engineclient.ConnectionError
	var reqErr *engineclient.RequestError
	if errors.As(err, &connErr) || errors.As(err, &reqErr) {
		m.logger.Warn("engine fetch failed, leaving entry registered", "gid", e.gid, "error", err)
		return
	}

	m.logger.Error("unexpected error fetching task status", "gid", e.gid, "error", err)
}

func finishedOrRemovedText(gid string) string {
	return "<b>Task " + render.EscapeHTML(gid) + "</b>\n\nCompleted or removed."
}

func (m *Monitor) reconcile(ctx context.Context, key Key, snap engineclient.Snapshot) {
	if snap.Status.Terminal() {
		m.finalize(ctx, key, snap)
		return
	}
	m.updateLive(ctx, key, snap)
}

// finalize renders the terminal text, strips the control keyboard, records
// a completed/error history row (removed is handled by the command path,
// per the monitor's read-only relationship to removal), and unregisters.
func (m *Monitor) finalize(ctx context.Context, key Key, snap engineclient.Snapshot) {
	text := render.TaskDetail(snap)
	if err := m.editor.EditFinal(ctx, key.ChatID, key.MessageID, text); err != nil {
		m.logger.Warn("final edit failed, unregistering anyway", "gid", snap.GID, "error", err)
	}
	m.Unregister(key.ChatID, key.MessageID)

	if snap.Status == engineclient.StatusRemoved {
		return
	}

	status := history.StatusCompleted
	if snap.Status == engineclient.StatusError {
		status = history.StatusError
	}
	files := make([]history.FileEntry, 0, len(snap.Files))
	for _, f := range snap.Files {
		files = append(files, history.FileEntry{Path: f.Path, Name: f.Name})
	}
	if _, err := m.history.Upsert(ctx, history.UpsertInput{
		GID:          snap.GID,
		Name:         snap.Name,
		Status:       status,
		Size:         snap.TotalLength,
		ErrorCode:    snap.ErrorCode,
		ErrorMessage: snap.ErrorMessage,
		Files:        files,
	}); err != nil {
		m.logger.Error("failed to record terminal history", "gid", snap.GID, "error", err)
	}
}

func (m *Monitor) updateLive(ctx context.Context, key Key, snap engineclient.Snapshot) {
	text := render.TaskDetail(snap)

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	if text == e.lastRenderedText {
		return
	}

	outcome, retryAfter, err := m.editor.EditLive(ctx, key.ChatID, key.MessageID, text, render.TaskControlKeyboard(snap.GID))
	m.recordEditOutcome(ctx, outcome)
	switch outcome {
	case EditOK, EditNotModified:
		m.cacheRenderedText(key, text)
	case EditRetryAfter:
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryAfter):
		}
		outcome2, _, err2 := m.editor.EditLive(ctx, key.ChatID, key.MessageID, text, render.TaskControlKeyboard(snap.GID))
		if outcome2 == EditOK || outcome2 == EditNotModified {
			m.cacheRenderedText(key, text)
		} else {
			m.logger.Warn("live edit retry after rate limit failed", "gid", snap.GID, "error", err2)
		}
	case EditGone:
		m.logger.Info("message gone, unregistering", "gid", snap.GID)
		m.Unregister(key.ChatID, key.MessageID)
	case EditFailed:
		m.logger.Warn("live edit failed, leaving entry registered", "gid", snap.GID, "error", err)
	}
}

func (m *Monitor) recordEditOutcome(ctx context.Context, outcome EditOutcome) {
	if m.metrics == nil {
		return
	}
	switch outcome {
	case EditOK:
		m.metrics.MonitorEdits.Add(ctx, 1)
	case EditFailed:
		m.metrics.MonitorEditErrors.Add(ctx, 1)
	}
}

func (m *Monitor) cacheRenderedText(key Key, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.lastRenderedText = text
	m.entries[key] = e
}
