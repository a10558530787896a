package bot

import "time"

// confirmEntry is a one-shot pending confirmation: the /clearhistory
// command sets one, the next matching callback (or timeout) clears it.
// This replaces the python-telegram-bot ConversationHandler state machine
// with a plain guarded map, since no framework-level conversation tracking
// is needed for a single yes/no prompt.
type confirmEntry struct {
	chatID    int64
	messageID int
	expires   time.Time
}

// beginConfirm records a pending confirmation for userID, replacing any
// prior one.
func (c *Channel) beginConfirm(userID, chatID int64, messageID int) {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()
	c.confirm[userID] = confirmEntry{
		chatID:    chatID,
		messageID: messageID,
		expires:   time.Now().Add(c.confirmTimeout),
	}
}

// takeConfirm consumes and returns the pending confirmation for userID, if
// any and not expired. A consumed or expired entry is removed either way.
func (c *Channel) takeConfirm(userID int64) (confirmEntry, bool) {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()
	entry, ok := c.confirm[userID]
	delete(c.confirm, userID)
	if !ok || time.Now().After(entry.expires) {
		return confirmEntry{}, false
	}
	return entry, true
}

// cancelConfirm drops any pending confirmation for userID without acting
// on it.
func (c *Channel) cancelConfirm(userID int64) {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()
	delete(c.confirm, userID)
}
