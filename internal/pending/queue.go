// Package pending holds library items waiting for their metadata to appear.
package pending

import (
	"strings"
	"sync"
	"time"
)

// Entry is a queued item id and its check bookkeeping.
type Entry struct {
	ID       string    `json:"id"`
	QueuedAt time.Time `json:"queued_at"`
	Checks   int       `json:"checks"`
}

// Queue is an insertion-ordered set of item ids, safe for concurrent use.
// Intake adds to it and the poller drains it.
type Queue struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*Entry), now: time.Now}
}

// NewQueueWithClock is NewQueue with an injectable clock for QueuedAt.
func NewQueueWithClock(now func() time.Time) *Queue {
	q := NewQueue()
	if now != nil {
		q.now = now
	}
	return q
}

// Add queues id. It returns false if id is empty or already queued.
func (q *Queue) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; ok {
		return false
	}
	q.entries[id] = &Entry{ID: id, QueuedAt: q.now()}
	q.order = append(q.order, id)
	return true
}

func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return false
	}
	delete(q.entries, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[id]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Snapshot returns a copy of all entries in insertion order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.entries[id])
	}
	return out
}

// MarkChecked bumps the check counter of id and returns the updated entry.
func (q *Queue) MarkChecked(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Entry{}, false
	}
	e.Checks++
	return *e, true
}

// Clear drops every entry and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.order = nil
	q.entries = make(map[string]*Entry)
	return n
}

// Policy bounds how long an item may wait for metadata.
// Zero values mean unlimited.
type Policy struct {
	MaxAttempts int
	MaxAge      time.Duration
}

// Expired reports whether e should be abandoned at now.
func (p Policy) Expired(e Entry, now time.Time) bool {
	if p.MaxAttempts > 0 && e.Checks >= p.MaxAttempts {
		return true
	}
	if p.MaxAge > 0 && !e.QueuedAt.IsZero() && now.Sub(e.QueuedAt) >= p.MaxAge {
		return true
	}
	return false
}

func (p Policy) Unlimited() bool { return p.MaxAttempts <= 0 && p.MaxAge <= 0 }
