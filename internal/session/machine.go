package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/sitepulse/sitepulse-go/internal/storage"
	"github.com/sitepulse/sitepulse-go/internal/wire"
)

type persistedState struct {
	SessionID   string            `json:"session_id"`
	Actions     []wire.Action     `json:"actions"`
	CurrentPage *wire.CurrentPage `json:"current_page"`
}

// Machine holds the append-only action log and the in-progress current page.
// It restores itself from the tab-scoped store on construction and flushes
// every mutation synchronously, so a reload never loses recorded activity.
type Machine struct {
	tab     storage.Store
	durable storage.Store
	clock   quartz.Clock

	mu        sync.Mutex
	sessionID string
	actions   []wire.Action
	current   *wire.CurrentPage
}

func NewMachine(tab, durable storage.Store, sessionID string, clock quartz.Clock) *Machine {
	m := &Machine{
		tab:       tab,
		durable:   durable,
		clock:     clock,
		sessionID: sessionID,
	}
	m.restore()
	return m
}

// restore loads the log persisted by a previous load of the same tab. State
// recorded under a different session id is discarded wholesale.
func (m *Machine) restore() {
	raw, ok, err := m.tab.Get(keyState)
	if err != nil || !ok {
		return
	}
	var st persistedState
	if json.Unmarshal([]byte(raw), &st) != nil || st.SessionID != m.sessionID {
		m.flush()
		return
	}
	m.actions = st.Actions
	m.current = st.CurrentPage
}

func (m *Machine) flush() {
	st := persistedState{
		SessionID:   m.sessionID,
		Actions:     m.actions,
		CurrentPage: m.current,
	}
	if b, err := json.Marshal(st); err == nil {
		_ = m.tab.Set(keyState, string(b))
	}
}

// RecordPageView closes the current page, if any, into a pageview action and
// starts the next page. focusDur is the focus time the tracker accumulated
// for the finished page; it is clamped so a pageview's duration can never
// exceed the wall-clock time between entry and exit.
func (m *Machine) RecordPageView(path string, focusDur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	next := 1
	if m.current != nil {
		a := wire.Action{
			Type:       wire.ActionPageview,
			Token:      wire.NewToken(),
			Path:       m.current.Path,
			PageNumber: m.current.PageNumber,
			DurationMS: focusDur.Milliseconds(),
			Scroll:     m.current.Scroll,
			EnteredAt:  m.current.EnteredAt,
			ExitedAt:   now.UnixMilli(),
		}
		if wall := a.ExitedAt - a.EnteredAt; a.DurationMS > wall {
			a.DurationMS = wall
		}
		if a.DurationMS < 0 {
			a.DurationMS = 0
		}
		m.actions = append(m.actions, a)
		next = m.current.PageNumber + 1
	}
	if path == "" {
		if m.current != nil {
			path = m.current.Path
		} else {
			path = "/"
		}
	}
	m.current = &wire.CurrentPage{
		Path:       path,
		PageNumber: next,
		EnteredAt:  now.UnixMilli(),
	}
	m.flush()
}

// RecordGoal appends a goal action stamped with the current path and page
// number.
func (m *Machine) RecordGoal(name string, value *float64, currency string, properties map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := wire.Action{
		Type:       wire.ActionGoal,
		Token:      wire.NewToken(),
		Name:       name,
		Timestamp:  m.clock.Now().UnixMilli(),
		Value:      value,
		Currency:   currency,
		Properties: properties,
	}
	if m.current != nil {
		a.Path = m.current.Path
		a.PageNumber = m.current.PageNumber
	}
	m.actions = append(m.actions, a)
	m.flush()
}

// UpdateScroll records a scroll sample for the current page. Values clamp to
// [0, 100] and the stored depth only ever grows.
func (m *Machine) UpdateScroll(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if m.current == nil || pct <= m.current.Scroll {
		return
	}
	m.current.Scroll = pct
	m.flush()
}

// TakeSnapshot hands the pending actions to the delivery pipeline and clears
// the live log. Once taken, a snapshot's fate is the retry queue's problem;
// dedup tokens cover any retransmission.
func (m *Machine) TakeSnapshot() ([]wire.Action, *wire.CurrentPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := m.actions
	m.actions = nil
	var current *wire.CurrentPage
	if m.current != nil {
		c := *m.current
		current = &c
	}
	m.flush()
	return actions, current
}

// ClaimAttributes returns true exactly once per session across every tab
// sharing the durable store: the winner attaches attributes to its next
// payload. The read-modify-write is not atomic; the benign race is the same
// one last_active_at tolerates, and the server treats attributes as sticky.
func (m *Machine) ClaimAttributes() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.durable.Get(keyAttrsSent)
	if err == nil && ok && raw == m.sessionID {
		return false
	}
	_ = m.durable.Set(keyAttrsSent, m.sessionID)
	return true
}

// AttributesSent reports the flag without claiming it.
func (m *Machine) AttributesSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.durable.Get(keyAttrsSent)
	return err == nil && ok && raw == m.sessionID
}

// CurrentPage returns a copy of the in-progress page, or nil before the
// first pageview.
func (m *Machine) CurrentPage() *wire.CurrentPage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// PendingActions is the number of recorded-but-unsent actions.
func (m *Machine) PendingActions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions)
}

// ResetSession discards all state and rebinds the machine to a new canonical
// session id.
func (m *Machine) ResetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = sessionID
	m.actions = nil
	m.current = nil
	m.flush()
}
