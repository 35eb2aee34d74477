package delivery

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sitepulse/sitepulse-go/internal/session"
	"github.com/sitepulse/sitepulse-go/internal/storage"
	"github.com/sitepulse/sitepulse-go/internal/wire"
)

// QueueItem is one payload snapshot awaiting retry.
type QueueItem struct {
	Payload     wire.Payload `json:"payload"`
	Attempts    int          `json:"attempts"`
	EnqueuedAt  int64        `json:"enqueued_at"`
	NextRetryAt int64        `json:"next_retry_at"`
}

// Queue is the bounded FIFO of undelivered payloads. It persists whole-blob
// to the durable store on every mutation and silently drops its oldest items
// when the cap is exceeded. Retries come off the head only, preserving the
// original send order.
type Queue struct {
	mu       sync.Mutex
	store    storage.Store
	capacity int
	items    []QueueItem
}

func NewQueue(store storage.Store, capacity int) *Queue {
	q := &Queue{store: store, capacity: capacity}
	q.load()
	return q
}

func (q *Queue) load() {
	raw, ok, err := q.store.Get(session.QueueKey)
	if err != nil || !ok {
		return
	}
	var items []QueueItem
	// A corrupt blob means starting empty, not failing.
	if json.Unmarshal([]byte(raw), &items) != nil {
		return
	}
	if len(items) > q.capacity {
		items = items[len(items)-q.capacity:]
	}
	q.items = items
}

func (q *Queue) persist() {
	if b, err := json.Marshal(q.items); err == nil {
		_ = q.store.Set(session.QueueKey, string(b))
	}
}

// Push appends item, evicting from the front if the cap is exceeded. It
// returns how many items were dropped.
func (q *Queue) Push(item QueueItem) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	dropped := 0
	for len(q.items) > q.capacity {
		q.items = q.items[1:]
		dropped++
	}
	q.persist()
	return dropped
}

// Head returns the oldest item without removing it.
func (q *Queue) Head() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueueItem{}, false
	}
	return q.items[0], true
}

// PopHead removes the oldest item after a successful send.
func (q *Queue) PopHead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
	q.persist()
}

// RescheduleHead bumps the head's attempt count and retry time after a
// failure. The item keeps its place so order is preserved.
func (q *Queue) RescheduleHead(nextRetryAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[0].Attempts++
	q.items[0].NextRetryAt = nextRetryAt.UnixMilli()
	q.persist()
}

// Len is the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops everything. Used by Reset.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.persist()
}
