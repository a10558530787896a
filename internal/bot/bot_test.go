package bot

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ariabot/ariabot/internal/engineclient"
	"github.com/ariabot/ariabot/internal/history"
	"github.com/ariabot/ariabot/internal/pagestate"
)

// fakeAPI is an in-memory stand-in for *tgbotapi.BotAPI.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEngine struct {
	mu        sync.Mutex
	snapshots map[string]engineclient.Snapshot
	addedGID  string
	paused    []string
	resumed   []string
	removed   []string
}

func (f *fakeEngine) Add(context.Context, []string, map[string]string) (string, error) {
	return f.addedGID, nil
}
func (f *fakeEngine) Get(_ context.Context, gid string) (engineclient.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[gid]
	if !ok {
		return engineclient.Snapshot{}, &engineclient.TaskNotFoundError{GID: gid}
	}
	return snap, nil
}
func (f *fakeEngine) ListActive(context.Context) ([]engineclient.Snapshot, error) { return nil, nil }
func (f *fakeEngine) ListWaiting(context.Context, int, int) ([]engineclient.Snapshot, error) {
	return nil, nil
}
func (f *fakeEngine) Pause(_ context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, gid)
	return nil
}
func (f *fakeEngine) Resume(_ context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, gid)
	return nil
}
func (f *fakeEngine) Remove(_ context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, gid)
	return nil
}
func (f *fakeEngine) PauseAll(context.Context) error  { return nil }
func (f *fakeEngine) ResumeAll(context.Context) error { return nil }
func (f *fakeEngine) GlobalStats(context.Context) (engineclient.GlobalStats, error) {
	return engineclient.GlobalStats{}, nil
}

type fakeHistoryStore struct {
	mu       sync.Mutex
	upserted []history.UpsertInput
	cleared  bool
}

func (f *fakeHistoryStore) Upsert(_ context.Context, in history.UpsertInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, in)
	return 1, nil
}
func (f *fakeHistoryStore) List(context.Context, int, int, history.Status) (history.Page, error) {
	return history.Page{}, nil
}
func (f *fakeHistoryStore) GetByGID(context.Context, string) (history.Record, error) {
	return history.Record{}, sql.ErrNoRows
}
func (f *fakeHistoryStore) Search(context.Context, string, int, int) (history.Page, error) {
	return history.Page{}, nil
}
func (f *fakeHistoryStore) Clear(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	return 3, nil
}

type fakeMonitor struct {
	mu             sync.Mutex
	registered     map[int64]string // messageID -> gid
	unregisteredID []string
}

func newFakeMonitor() *fakeMonitor { return &fakeMonitor{registered: make(map[int64]string)} }

func (f *fakeMonitor) Register(_, messageID int64, gid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[messageID] = gid
}
func (f *fakeMonitor) Unregister(_, messageID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, messageID)
}
func (f *fakeMonitor) UnregisterGID(gid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisteredID = append(f.unregisteredID, gid)
}

type fakeAudit struct {
	mu      sync.Mutex
	records []string
}

func (f *fakeAudit) Record(userID int64, action string, allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, action)
}

func newTestChannel(t *testing.T, engine *fakeEngine, hist *fakeHistoryStore, mon *fakeMonitor) (*Channel, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	c := New(Config{
		AuthorizedID: map[int64]struct{}{1: {}},
		Engine:       engine,
		History:      hist,
		Monitor:      mon,
		Pages:        pagestate.New(),
		ConfirmTimeout: time.Minute,
	})
	c.api = api
	return c, api
}

func msgFrom(userID, chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
}

func TestHandleMessage_UnauthorizedUserDenied(t *testing.T) {
	engine := &fakeEngine{snapshots: map[string]engineclient.Snapshot{}}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, api := newTestChannel(t, engine, hist, mon)

	c.handleMessage(context.Background(), msgFrom(99, 100, "/help"))

	if api.sentCount() != 1 {
		t.Fatalf("expected a denial message, got %d sends", api.sentCount())
	}
}

func TestCmdAdd_RegistersWithMonitor(t *testing.T) {
	engine := &fakeEngine{addedGID: "0123456789abcdef", snapshots: map[string]engineclient.Snapshot{
		"0123456789abcdef": {GID: "0123456789abcdef", Status: engineclient.StatusActive, Name: "file.bin"},
	}}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, _ := newTestChannel(t, engine, hist, mon)

	cmdAdd(context.Background(), c, msgFrom(1, 100, ""), "http://example.com/file.bin")

	mon.mu.Lock()
	defer mon.mu.Unlock()
	if len(mon.registered) != 1 {
		t.Fatalf("expected one registered entry, got %d", len(mon.registered))
	}
}

func TestCmdAdd_RejectsBadScheme(t *testing.T) {
	engine := &fakeEngine{}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, api := newTestChannel(t, engine, hist, mon)

	cmdAdd(context.Background(), c, msgFrom(1, 100, ""), "not-a-url")

	if api.sentCount() != 1 {
		t.Fatalf("expected one error message, got %d", api.sentCount())
	}
	if len(mon.registered) != 0 {
		t.Fatalf("expected no registration for a rejected add")
	}
}

func TestCmdRemove_UnregistersAndRecordsHistory(t *testing.T) {
	engine := &fakeEngine{snapshots: map[string]engineclient.Snapshot{
		"0123456789abcdef": {GID: "0123456789abcdef", Name: "file.bin", Status: engineclient.StatusActive},
	}}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, _ := newTestChannel(t, engine, hist, mon)

	cmdRemove(context.Background(), c, msgFrom(1, 100, ""), "0123456789abcdef")

	if len(engine.removed) != 1 {
		t.Fatalf("expected engine.Remove called once, got %d", len(engine.removed))
	}
	if len(hist.upserted) != 1 || hist.upserted[0].Status != history.StatusRemoved {
		t.Fatalf("expected a removed history record, got %+v", hist.upserted)
	}
	if len(mon.unregisteredID) != 1 || mon.unregisteredID[0] != "0123456789abcdef" {
		t.Fatalf("expected UnregisterGID called, got %v", mon.unregisteredID)
	}
}

func TestCmdPause_RejectsInvalidGID(t *testing.T) {
	engine := &fakeEngine{}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, api := newTestChannel(t, engine, hist, mon)

	cmdPause(context.Background(), c, msgFrom(1, 100, ""), "not-a-gid")

	if len(engine.paused) != 0 {
		t.Fatalf("expected no pause call for an invalid gid")
	}
	if api.sentCount() != 1 {
		t.Fatalf("expected one error message, got %d", api.sentCount())
	}
}

func TestClearHistoryConfirmFlow(t *testing.T) {
	engine := &fakeEngine{}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, _ := newTestChannel(t, engine, hist, mon)

	msg := msgFrom(1, 100, "")
	cmdClearHistory(context.Background(), c, msg, "")

	c.confirmMu.Lock()
	entry, ok := c.confirm[1]
	c.confirmMu.Unlock()
	if !ok {
		t.Fatal("expected a pending confirmation to be recorded")
	}

	query := &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 1},
		Data: "clear_history_confirm",
		Message: &tgbotapi.Message{
			MessageID: entry.messageID,
			Chat:      &tgbotapi.Chat{ID: entry.chatID},
		},
	}
	c.callbackClearHistoryConfirm(context.Background(), query)

	if !hist.cleared {
		t.Fatal("expected history.Clear to be called after confirmation")
	}
	if _, stillPending := c.confirm[1]; stillPending {
		t.Fatal("expected the pending confirmation to be consumed")
	}
}

func TestClearHistoryConfirm_ExpiredIsRejected(t *testing.T) {
	engine := &fakeEngine{}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, _ := newTestChannel(t, engine, hist, mon)
	c.confirmTimeout = time.Millisecond

	msg := msgFrom(1, 100, "")
	cmdClearHistory(context.Background(), c, msg, "")
	time.Sleep(5 * time.Millisecond)

	c.confirmMu.Lock()
	entry := c.confirm[1]
	c.confirmMu.Unlock()

	query := &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 1},
		Data: "clear_history_confirm",
		Message: &tgbotapi.Message{
			MessageID: entry.messageID,
			Chat:      &tgbotapi.Chat{ID: entry.chatID},
		},
	}
	c.callbackClearHistoryConfirm(context.Background(), query)

	if hist.cleared {
		t.Fatal("expected an expired confirmation to not clear history")
	}
}

func TestCallbackPauseRefreshesTaskDetail(t *testing.T) {
	engine := &fakeEngine{snapshots: map[string]engineclient.Snapshot{
		"0123456789abcdef": {GID: "0123456789abcdef", Name: "file.bin", Status: engineclient.StatusPaused},
	}}
	hist := &fakeHistoryStore{}
	mon := newFakeMonitor()
	c, api := newTestChannel(t, engine, hist, mon)

	query := &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{
			MessageID: 5,
			Chat:      &tgbotapi.Chat{ID: 100},
		},
	}
	c.callbackPause(context.Background(), query, "0123456789abcdef")

	if len(engine.paused) != 1 {
		t.Fatalf("expected engine.Pause called once, got %d", len(engine.paused))
	}
	if api.sentCount() != 1 {
		t.Fatalf("expected one edit sent, got %d", api.sentCount())
	}
}
