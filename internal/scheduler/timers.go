package scheduler

import (
	"sync"
	"time"
)

type entry struct {
	timer *time.Timer
	at    time.Time
}

// Timers keeps at most one pending timer per chat. It is a cached
// projection of plan state, never authoritative: whoever fires decides
// what (if anything) is actually due by consulting the store.
type Timers struct {
	mu      sync.Mutex
	entries map[int64]entry
}

// NewTimers creates an empty timer table.
func NewTimers() *Timers {
	return &Timers{entries: make(map[int64]entry)}
}

// Schedule arms a timer for the chat at the given instant, replacing any
// pending one. fn runs on the timer's own goroutine when it fires.
func (t *Timers) Schedule(chatID int64, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[chatID]; ok {
		old.timer.Stop()
	}

	var tm *time.Timer
	tm = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		// Only remove our own entry: Schedule may have replaced it
		// between the fire and this lock.
		if cur, ok := t.entries[chatID]; ok && cur.timer == tm {
			delete(t.entries, chatID)
		}
		t.mu.Unlock()
		fn()
	})
	t.entries[chatID] = entry{timer: tm, at: at}
}

// Cancel stops any pending timer for the chat. No-op when none exists.
func (t *Timers) Cancel(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[chatID]; ok {
		e.timer.Stop()
		delete(t.entries, chatID)
	}
}

// NextFireAt returns the pending fire time for the chat, if any.
func (t *Timers) NextFireAt(chatID int64) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[chatID]
	return e.at, ok
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StopAll cancels every pending timer.
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for chatID, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, chatID)
	}
}
