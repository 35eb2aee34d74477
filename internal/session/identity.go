// Package session owns visitor identity, the canonical session record, and
// the per-tab session state machine with its append-only action log.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/sitepulse/sitepulse-go/internal/storage"
)

// Durable keys. Single keys, overwritten on rotation, so storage stays
// bounded no matter how many sessions a visitor goes through.
const (
	keySession    = storage.Prefix + "session"
	keyVisitor    = storage.Prefix + "visitor"
	keyAttrs      = storage.Prefix + "attributes"
	keyAttrsSent  = storage.Prefix + "attributes_sent"
	keyQueue      = storage.Prefix + "queue"
	keyDimensions = storage.Prefix + "dimensions"
	keyUser       = storage.Prefix + "user"
	keyState      = storage.Prefix + "state" // tab-scoped
	keyTab        = storage.Prefix + "tab"   // tab-scoped
)

// QueueKey is where the delivery pipeline persists its retry queue.
const QueueKey = keyQueue

// DimensionsKey and UserKey hold host-set custom dimensions and user id.
const (
	DimensionsKey = keyDimensions
	UserKey       = keyUser
)

// Record is the durable session record. Exactly one is canonical per durable
// store at a time; concurrent tabs race on last_active_at with last-write-wins.
type Record struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	CreatedAt    int64  `json:"created_at"`
	LastActiveAt int64  `json:"last_active_at"`
}

// Identity reads the session record at startup and rotates it when the
// inactivity window has elapsed.
type Identity struct {
	durable     storage.Store
	clock       quartz.Clock
	timeout     time.Duration
	workspaceID string

	mu     sync.Mutex
	record Record
	fresh  bool
}

func NewIdentity(durable storage.Store, workspaceID string, timeout time.Duration, clock quartz.Clock) *Identity {
	i := &Identity{
		durable:     durable,
		clock:       clock,
		timeout:     timeout,
		workspaceID: workspaceID,
	}
	i.load()
	return i
}

func (i *Identity) load() {
	now := i.clock.Now()
	raw, ok, err := i.durable.Get(keySession)
	if err == nil && ok {
		var rec Record
		if json.Unmarshal([]byte(raw), &rec) == nil &&
			rec.ID != "" &&
			rec.WorkspaceID == i.workspaceID &&
			now.Sub(time.UnixMilli(rec.LastActiveAt)) <= i.timeout {
			rec.LastActiveAt = now.UnixMilli()
			i.record = rec
			i.persist()
			return
		}
	}
	i.create(now)
}

func (i *Identity) create(now time.Time) {
	i.record = Record{
		ID:           uuid.NewString(),
		WorkspaceID:  i.workspaceID,
		CreatedAt:    now.UnixMilli(),
		LastActiveAt: now.UnixMilli(),
	}
	i.fresh = true
	i.persist()
}

func (i *Identity) persist() {
	// Storage failure degrades to memory-of-this-record; never surfaces.
	if b, err := json.Marshal(i.record); err == nil {
		_ = i.durable.Set(keySession, string(b))
	}
}

// SessionID returns the canonical session id.
func (i *Identity) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.record.ID
}

// Record returns a copy of the session record.
func (i *Identity) Record() Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.record
}

// Fresh reports whether load created a brand-new session (first visit,
// workspace change, or inactivity expiry).
func (i *Identity) Fresh() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fresh
}

// Touch updates last_active_at. Concurrent tabs may interleave here; the
// last write wins and that is acceptable.
func (i *Identity) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.record.LastActiveAt = i.clock.Now().UnixMilli()
	i.persist()
}

// Rotate abandons the current session and creates a new one. Used by Reset.
func (i *Identity) Rotate() Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.create(i.clock.Now())
	return i.record
}
