// Package audit records every authorization decision the bot makes as an
// append-only JSONL ledger, so a denied or allowed command/callback can be
// traced back after the fact.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	UserID    int64  `json:"user_id"`
	Action    string `json:"action"`
	Allowed   bool   `json:"allowed"`
}

// Logger is a file-backed, append-only authorization-decision ledger.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	denyCount atomic.Int64
}

// New opens (creating if absent) the JSONL file at path for appending.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f}, nil
}

// Record appends one decision to the ledger. Safe for concurrent use.
func (l *Logger) Record(userID int64, action string, allowed bool) {
	if !allowed {
		l.denyCount.Add(1)
	}

	ev := entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		UserID:    userID,
		Action:    action,
		Allowed:   allowed,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(append(b, '\n'))
}

// DenyCount returns the total number of deny decisions recorded so far.
func (l *Logger) DenyCount() int64 {
	return l.denyCount.Load()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
