package sitepulse

import (
	"context"
	"time"

	"github.com/sitepulse/sitepulse-go/internal/delivery"
)

// LifecycleEvent is a normalized browser lifecycle signal. The host forwards
// raw events (visibilitychange, blur/focus, freeze/resume, online/offline,
// pagehide) and the agent folds them into the RUNNING/PAUSED clock, the
// opportunistic retry triggers, and the final teardown flush.
type LifecycleEvent int

const (
	EventHidden LifecycleEvent = iota
	EventVisible
	EventBlur
	EventFocus
	EventFreeze
	EventResume
	EventOnline
	EventOffline
	EventPageHide
)

func (e LifecycleEvent) String() string {
	switch e {
	case EventHidden:
		return "hidden"
	case EventVisible:
		return "visible"
	case EventBlur:
		return "blur"
	case EventFocus:
		return "focus"
	case EventFreeze:
		return "freeze"
	case EventResume:
		return "resume"
	case EventOnline:
		return "online"
	case EventOffline:
		return "offline"
	case EventPageHide:
		return "pagehide"
	default:
		return "unknown"
	}
}

// Signal feeds one lifecycle event to the agent. Duplicate and rapid-fire
// events are safe; the underlying transitions are idempotent.
func (a *Agent) Signal(ev LifecycleEvent) {
	if a == nil {
		return
	}
	switch ev {
	case EventHidden:
		// A hidden tab may be discarded without any further signal, so this
		// is a teardown trigger, not just a pause.
		a.setVisible(false)
		a.tracker.Pause()
		a.teardownFlush()
	case EventBlur, EventFreeze:
		a.tracker.Pause()
	case EventVisible:
		a.setVisible(true)
		a.tracker.Resume()
		a.drainQueue()
	case EventFocus, EventResume:
		a.tracker.Resume()
	case EventOnline:
		a.setOffline(false)
		a.drainQueue()
	case EventOffline:
		a.setOffline(true)
	case EventPageHide:
		a.tracker.Pause()
		a.teardownFlush()
	}
}

// teardownFlush is the best-effort final flush over the beacon: it is the
// only transport a navigation cannot cancel.
func (a *Agent) teardownFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()
	a.pipeline.Flush(ctx, delivery.ReasonTeardown)
}

func (a *Agent) drainQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()
	a.pipeline.DrainQueue(ctx)
}

func (a *Agent) setVisible(v bool) {
	a.mu.Lock()
	a.visible = v
	a.mu.Unlock()
}

func (a *Agent) setOffline(v bool) {
	a.mu.Lock()
	a.offline = v
	a.mu.Unlock()
}

// Snapshot is a point-in-time diagnostic view for the host page.
type Snapshot struct {
	SessionID      string
	VisitorID      string
	TabID          string
	UserID         string
	Path           string
	PageNumber     int
	PageEnteredAt  time.Time
	FocusDuration  time.Duration
	TotalDuration  time.Duration
	TrackerState   string
	PendingActions int
	QueueLength    int
	AttributesSent bool
	Offline        bool
}

// Debug returns a Snapshot of the agent's current state.
func (a *Agent) Debug() Snapshot {
	if a == nil {
		return Snapshot{}
	}
	s := Snapshot{
		SessionID:      a.identity.SessionID(),
		VisitorID:      a.visitorID,
		TabID:          a.tabID,
		UserID:         a.UserID(),
		PageEnteredAt:  a.tracker.EnteredAt(),
		FocusDuration:  a.tracker.FocusDuration(),
		TotalDuration:  a.tracker.TotalDuration(),
		TrackerState:   a.tracker.State().String(),
		PendingActions: a.machine.PendingActions(),
		QueueLength:    a.pipeline.QueueLen(),
		AttributesSent: a.machine.AttributesSent(),
		Offline:        a.isOffline(),
	}
	if cp := a.machine.CurrentPage(); cp != nil {
		s.Path = cp.Path
		s.PageNumber = cp.PageNumber
	}
	return s
}
