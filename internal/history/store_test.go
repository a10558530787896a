package history_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariabot/ariabot/internal/history"
)

func fixedTime(unixSec int64) time.Time {
	return time.Unix(unixSec, 0)
}

func openTestStore(t *testing.T, maxHistory int) *history.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.db"), maxHistory)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStore_UpsertThenGetByGID(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, history.UpsertInput{
		GID:    "abc123",
		Name:   "ubuntu.iso",
		Status: history.StatusCompleted,
		Size:   1024,
		Files:  []history.FileEntry{{Path: "/dl/ubuntu.iso", Name: "ubuntu.iso"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := store.GetByGID(ctx, "abc123")
	if err != nil {
		t.Fatalf("get by gid: %v", err)
	}
	if rec.Name != "ubuntu.iso" || rec.Status != history.StatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Files) != 1 || rec.Files[0].Name != "ubuntu.iso" {
		t.Fatalf("expected one file entry round-tripped, got %+v", rec.Files)
	}
}

func TestStore_UpsertOverwritesSameGID(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "file", Status: history.StatusError, ErrorMessage: "timeout"})
	store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "file", Status: history.StatusRemoved})

	page, err := store.List(ctx, 1, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected a single row after overwrite, got %d", page.Total)
	}
	if page.Records[0].Status != history.StatusRemoved {
		t.Fatalf("expected latest status to win, got %s", page.Records[0].Status)
	}
}

// TestStore_UpsertNeverClearsNotified exercises the shared-gid scenario from
// monitor.finalize: two distinct (chat, message) keys can track the same
// gid, so a second finalize call for the same gid must not flip notified
// back to false after the reconciler has already marked it delivered.
func TestStore_UpsertNeverClearsNotified(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "file", Status: history.StatusCompleted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := store.MarkNotified(ctx, "g1")
	if err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if !ok {
		t.Fatalf("expected mark notified to find the row")
	}

	// A second finalize call for the same gid (e.g. a sibling chat's entry)
	// upserts with Notified left at its zero value.
	if _, err := store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "file", Status: history.StatusCompleted}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rec, err := store.GetByGID(ctx, "g1")
	if err != nil {
		t.Fatalf("get by gid: %v", err)
	}
	if !rec.Notified {
		t.Fatalf("expected notified to remain true after a later Upsert(Notified=false)")
	}
}

func TestStore_ListPaginatesNewestFirst(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	for i, gid := range []string{"g1", "g2", "g3"} {
		store.Upsert(ctx, history.UpsertInput{
			GID:       gid,
			Name:      gid,
			Status:    history.StatusCompleted,
			Timestamp: fixedTime(int64(1000 + i)),
		})
	}

	page, err := store.List(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if len(page.Records) != 2 || page.Records[0].GID != "g3" {
		t.Fatalf("expected newest-first page starting at g3, got %+v", page.Records)
	}
}

func TestStore_ListFiltersByStatus(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	store.Upsert(ctx, history.UpsertInput{GID: "ok", Name: "ok", Status: history.StatusCompleted})
	store.Upsert(ctx, history.UpsertInput{GID: "bad", Name: "bad", Status: history.StatusError})

	page, err := store.List(ctx, 1, 10, history.StatusError)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Records[0].GID != "bad" {
		t.Fatalf("expected only the errored record, got %+v", page.Records)
	}
}

func TestStore_SearchMatchesNameOrErrorMessage(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "movie.mkv", Status: history.StatusCompleted})
	store.Upsert(ctx, history.UpsertInput{GID: "g2", Name: "other.bin", Status: history.StatusError, ErrorMessage: "movie server unreachable"})

	page, err := store.Search(ctx, "movie", 1, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected both records to match, got %d", page.Total)
	}
}

func TestStore_ListUnnotifiedTerminalExcludesNotifiedAndRemoved(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	store.Upsert(ctx, history.UpsertInput{GID: "pending", Name: "a", Status: history.StatusCompleted})
	store.Upsert(ctx, history.UpsertInput{GID: "done", Name: "b", Status: history.StatusCompleted, Notified: true})
	store.Upsert(ctx, history.UpsertInput{GID: "removed", Name: "c", Status: history.StatusRemoved})

	recs, err := store.ListUnnotifiedTerminal(ctx)
	if err != nil {
		t.Fatalf("list unnotified: %v", err)
	}
	if len(recs) != 1 || recs[0].GID != "pending" {
		t.Fatalf("expected only the pending record, got %+v", recs)
	}

	ok, err := store.MarkNotified(ctx, "pending")
	if err != nil || !ok {
		t.Fatalf("mark notified: ok=%v err=%v", ok, err)
	}
	recs, err = store.ListUnnotifiedTerminal(ctx)
	if err != nil {
		t.Fatalf("list unnotified after mark: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no unnotified records left, got %+v", recs)
	}
}

func TestStore_MarkNotifiedUnknownGIDReturnsFalse(t *testing.T) {
	store := openTestStore(t, 0)
	ok, err := store.MarkNotified(context.Background(), "missing")
	if err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if ok {
		t.Fatal("expected false for unknown gid")
	}
}

func TestStore_GetByGIDMissingReturnsErrNoRows(t *testing.T) {
	store := openTestStore(t, 0)
	_, err := store.GetByGID(context.Background(), "nope")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestStore_TrimKeepsOnlyMaxHistoryNewest(t *testing.T) {
	store := openTestStore(t, 2)
	ctx := context.Background()

	for i, gid := range []string{"g1", "g2", "g3"} {
		store.Upsert(ctx, history.UpsertInput{
			GID:       gid,
			Name:      gid,
			Status:    history.StatusCompleted,
			Timestamp: fixedTime(int64(1000 + i)),
		})
	}

	page, err := store.List(ctx, 1, 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected trim to cap at 2 rows, got %d", page.Total)
	}
	for _, rec := range page.Records {
		if rec.GID == "g1" {
			t.Fatal("expected oldest record g1 to be trimmed")
		}
	}
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	store.Upsert(ctx, history.UpsertInput{GID: "g1", Name: "a", Status: history.StatusCompleted})
	store.Upsert(ctx, history.UpsertInput{GID: "g2", Name: "b", Status: history.StatusCompleted})

	n, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows cleared, got %d", n)
	}
	page, err := store.List(ctx, 1, 10, "")
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected empty table after clear, got %d", page.Total)
	}
}
