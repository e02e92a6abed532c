// Package eventbus is the in-memory fanout that decouples the notification
// pipeline from its observers (audit storage, metrics, logs).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline.
const (
	PendingQueued    = "pending.queued"
	PendingDuplicate = "pending.duplicate"
	PendingAbandoned = "pending.abandoned"
	PendingRemoved   = "pending.removed"
	NotifySent       = "notify.sent"
	NotifyFailed     = "notify.failed"
)

// Event is a small in-memory signal.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ItemEvent is the payload of pending.* events.
type ItemEvent struct {
	ItemID string `json:"item_id"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
	Checks int    `json:"checks,omitempty"`
}

// DeliveryEvent is the payload of notify.* events.
type DeliveryEvent struct {
	Path        string        `json:"path"` // media_added | direct
	ItemID      string        `json:"item_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Title       string        `json:"title,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// The channel may close under us on a concurrent unsubscribe.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
