// Package focus keeps the two-state visibility clock. The host normalizes
// browser lifecycle quirks (visibilitychange, blur/focus, freeze/resume) into
// Pause and Resume calls; everything else in the agent reads durations from
// here instead of doing its own time arithmetic.
package focus

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

type State int

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

// Tracker accumulates focus time for the current page. Transitions are
// idempotent: duplicate or rapid-fire browser events collapse into no-ops.
type Tracker struct {
	clock quartz.Clock

	mu           sync.Mutex
	state        State
	enteredAt    time.Time
	segmentStart time.Time
	accumulated  time.Duration
}

// New returns a Tracker that is RUNNING with page entry at now.
func New(clock quartz.Clock) *Tracker {
	now := clock.Now()
	return &Tracker{
		clock:        clock,
		state:        Running,
		enteredAt:    now,
		segmentStart: now,
	}
}

// Pause stops the focus clock, banking the in-progress segment.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Paused {
		return
	}
	t.accumulated += t.clock.Now().Sub(t.segmentStart)
	t.state = Paused
}

// Resume restarts the focus clock.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Running {
		return
	}
	t.segmentStart = t.clock.Now()
	t.state = Running
}

// FocusDuration is the banked focus time plus any in-progress RUNNING
// segment. It never exceeds TotalDuration.
func (t *Tracker) FocusDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.accumulated
	if t.state == Running {
		d += t.clock.Now().Sub(t.segmentStart)
	}
	return d
}

// TotalDuration is wall-clock time since page entry, focused or not.
func (t *Tracker) TotalDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Now().Sub(t.enteredAt)
}

// StartPage closes out the current page and restarts both clocks for the
// next one, preserving the RUNNING/PAUSED state. It returns the focus
// duration of the page just finished.
func (t *Tracker) StartPage() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	d := t.accumulated
	if t.state == Running {
		d += now.Sub(t.segmentStart)
	}
	t.accumulated = 0
	t.enteredAt = now
	t.segmentStart = now
	return d
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// EnteredAt is when the current page was entered.
func (t *Tracker) EnteredAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enteredAt
}
