// Package sitepulse is an embeddable analytics agent. The host feeds it
// navigations, scroll samples, goals, and browser lifecycle signals; the
// agent accounts focus time, keeps session state durable across reloads, and
// relays everything to a collection endpoint with at-least-once delivery.
package sitepulse

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/sitepulse/sitepulse-go/internal/delivery"
	"github.com/sitepulse/sitepulse-go/internal/focus"
	"github.com/sitepulse/sitepulse-go/internal/session"
	"github.com/sitepulse/sitepulse-go/internal/storage"
	"github.com/sitepulse/sitepulse-go/internal/wire"
)

// Goal is a custom conversion event. Delivery is attempted immediately and
// awaited, since the caller may navigate away right after.
type Goal struct {
	Name       string
	Value      *float64
	Currency   string
	Properties map[string]any
}

// Agent is the per-page tracker instance. All state hangs off it; there is
// no package-level singleton. A nil *Agent is inert: every method is a safe
// no-op, so a failed New leaves call sites unguarded.
type Agent struct {
	cfg    Config
	logger *log.Logger
	clock  quartz.Clock

	durable storage.Store
	tab     storage.Store

	identity  *session.Identity
	machine   *session.Machine
	tracker   *focus.Tracker
	pipeline  *delivery.Pipeline
	beacon    *delivery.BeaconTransport
	visitorID string
	tabID     string

	mu         sync.Mutex
	dimensions map[int]string
	userID     string
	visible    bool
	offline    bool
	closed     bool

	cancel context.CancelFunc
}

// New validates cfg and builds a running agent: canonical session resolved,
// tab state restored, heartbeat started. Configuration errors are the only
// way New fails; storage and transport trouble degrade instead.
func New(cfg Config) (*Agent, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.WorkspaceID == "" {
		return nil, ErrMissingWorkspace
	}
	cfg = cfg.withDefaults()

	a := &Agent{
		cfg:        cfg,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		tab:        storage.NewMemory(),
		dimensions: make(map[int]string),
		visible:    true,
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		a.logger.Printf("data dir unavailable, running in memory: %v", err)
		a.durable = storage.NewMemory()
	} else {
		durable, err := storage.OpenDurable(filepath.Join(cfg.DataDir, "sitepulse.db"))
		if err != nil {
			a.logger.Printf("durable storage degraded to memory: %v", err)
		}
		a.durable = durable
	}

	a.identity = session.NewIdentity(a.durable, cfg.WorkspaceID, cfg.InactivityTimeout, a.clock)
	if a.identity.Fresh() {
		session.SaveAttributes(a.durable, a.identity.SessionID(), cfg.Attributes)
	}
	a.visitorID = session.LoadVisitorID(a.durable)
	a.tabID = session.NewTabID(a.tab)
	a.machine = session.NewMachine(a.tab, a.durable, a.identity.SessionID(), a.clock)
	a.tracker = focus.New(a.clock)
	a.loadDimensions()
	a.loadUserID()

	trackURL := cfg.Endpoint + "/track"
	a.beacon = delivery.NewBeaconTransport(trackURL, cfg.HTTPClient, cfg.SendTimeout, 0)
	a.pipeline = delivery.NewPipeline(delivery.PipelineOptions{
		Clock:       a.clock,
		Logger:      a.logger,
		Queue:       delivery.NewQueue(a.durable, cfg.QueueCapacity),
		HTTP:        delivery.NewHTTPTransport(trackURL, cfg.HTTPClient, cfg.SendTimeout),
		Beacon:      a.beacon,
		Offline:     a.isOffline,
		BackoffBase: cfg.BackoffBase,
		Build:       a.buildPayload,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.pipeline.StartHeartbeat(ctx, cfg.HeartbeatInterval, a.isVisible)
	return a, nil
}

// SessionID returns the canonical session id.
func (a *Agent) SessionID() string {
	if a == nil {
		return ""
	}
	return a.identity.SessionID()
}

// VisitorID returns the long-lived visitor id.
func (a *Agent) VisitorID() string {
	if a == nil {
		return ""
	}
	return a.visitorID
}

// Config returns the effective configuration.
func (a *Agent) Config() Config {
	if a == nil {
		return Config{}
	}
	return a.cfg
}

// FocusDuration is the focus time accumulated on the current page.
func (a *Agent) FocusDuration() time.Duration {
	if a == nil {
		return 0
	}
	return a.tracker.FocusDuration()
}

// TotalDuration is wall-clock time on the current page.
func (a *Agent) TotalDuration() time.Duration {
	if a == nil {
		return 0
	}
	return a.tracker.TotalDuration()
}

// TrackPageView closes the current page into a pageview action and starts
// the next page. An empty path re-enters the current path.
func (a *Agent) TrackPageView(path string) {
	if a == nil {
		return
	}
	focusDur := a.tracker.StartPage()
	a.machine.RecordPageView(path, focusDur)
	a.identity.Touch()
}

// TrackGoal appends a goal action and awaits an immediate delivery attempt.
// It always returns within the configured GoalTimeout: the status reports
// sent, queued-for-retry, or failed, and is never an exception path.
func (a *Agent) TrackGoal(ctx context.Context, g Goal) delivery.Status {
	if a == nil {
		return delivery.StatusFailed
	}
	if g.Name == "" {
		a.logger.Printf("ignoring goal with empty name")
		return delivery.StatusFailed
	}
	a.machine.RecordGoal(g.Name, g.Value, g.Currency, g.Properties)
	a.identity.Touch()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.GoalTimeout)
	defer cancel()
	out := a.pipeline.Flush(ctx, delivery.ReasonGoal)
	return out.Status
}

// SetScroll records a scroll-depth sample for the current page, clamped to
// [0, 100]. The reported depth is the maximum observed and never decreases.
func (a *Agent) SetScroll(pct float64) {
	if a == nil {
		return
	}
	a.machine.UpdateScroll(pct)
}

// SetDimension stores a value in a custom dimension slot (1..MaxDimensions).
// Dimensions persist durably and restore across reloads.
func (a *Agent) SetDimension(index int, value string) {
	if a == nil {
		return
	}
	if index < 1 || index > MaxDimensions {
		a.logger.Printf("ignoring dimension index %d outside 1..%d", index, MaxDimensions)
		return
	}
	a.mu.Lock()
	a.dimensions[index] = value
	a.persistDimensionsLocked()
	a.mu.Unlock()
}

// Dimension returns the value in a slot, or "".
func (a *Agent) Dimension(index int) string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dimensions[index]
}

// ClearDimensions drops every slot.
func (a *Agent) ClearDimensions() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.dimensions = make(map[int]string)
	_ = a.durable.Delete(session.DimensionsKey)
	a.mu.Unlock()
}

// SetUserID associates the visitor with a host-provided id; empty clears it.
func (a *Agent) SetUserID(id string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.userID = id
	if id == "" {
		_ = a.durable.Delete(session.UserKey)
	} else {
		_ = a.durable.Set(session.UserKey, id)
	}
	a.mu.Unlock()
}

// UserID returns the host-provided user id, or "".
func (a *Agent) UserID() string {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// Pause stops the focus clock explicitly, independent of lifecycle signals.
func (a *Agent) Pause() {
	if a == nil {
		return
	}
	a.tracker.Pause()
}

// Resume restarts the focus clock.
func (a *Agent) Resume() {
	if a == nil {
		return
	}
	a.tracker.Resume()
}

// Reset abandons the current session, visitor id, dimensions, user id, and
// queued payloads, then starts a fresh session.
func (a *Agent) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.dimensions = make(map[int]string)
	a.userID = ""
	a.mu.Unlock()
	_ = a.durable.Delete(session.DimensionsKey)
	_ = a.durable.Delete(session.UserKey)
	session.ClearVisitorID(a.durable)
	a.pipeline.ClearQueue()

	rec := a.identity.Rotate()
	session.SaveAttributes(a.durable, rec.ID, a.cfg.Attributes)
	a.visitorID = session.LoadVisitorID(a.durable)
	a.machine.ResetSession(rec.ID)
	a.tracker.StartPage()
}

// Flush attempts an immediate delivery of pending state.
func (a *Agent) Flush(ctx context.Context) delivery.Outcome {
	if a == nil {
		return delivery.Outcome{Status: delivery.StatusIdle}
	}
	return a.pipeline.Flush(ctx, delivery.ReasonManual)
}

// Close stops the heartbeat, makes a final delivery attempt, waits for
// in-flight beacon sends, and releases storage.
func (a *Agent) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()
	a.pipeline.Flush(ctx, delivery.ReasonTeardown)
	a.beacon.Wait()
	_ = a.tab.Close()
	_ = a.durable.Close()
}

// buildPayload snapshots session state into the next wire payload. It
// returns nil before the first pageview or goal, so idle heartbeats cost
// nothing.
func (a *Agent) buildPayload(now time.Time) *wire.Payload {
	actions, current := a.machine.TakeSnapshot()
	if len(actions) == 0 && current == nil {
		return nil
	}
	if actions == nil {
		actions = []wire.Action{}
	}
	p := &wire.Payload{
		WorkspaceID: a.cfg.WorkspaceID,
		SessionID:   a.identity.SessionID(),
		VisitorID:   a.visitorID,
		UserID:      a.UserID(),
		Dimensions:  a.wireDimensions(),
		Actions:     actions,
		CurrentPage: current,
		CreatedAt:   a.identity.Record().CreatedAt,
		UpdatedAt:   now.UnixMilli(),
		SDKVersion:  wire.SDKVersion,
	}
	if a.machine.ClaimAttributes() {
		attrs, ok := session.LoadAttributes(a.durable, p.SessionID)
		if !ok {
			attrs = a.cfg.Attributes
		}
		p.Attributes = &attrs
	}
	a.identity.Touch()
	return p
}

func (a *Agent) wireDimensions() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.dimensions) == 0 {
		return nil
	}
	dims := make(map[string]string, len(a.dimensions))
	for slot, v := range a.dimensions {
		dims[strconv.Itoa(slot)] = v
	}
	return dims
}

func (a *Agent) loadDimensions() {
	raw, ok, err := a.durable.Get(session.DimensionsKey)
	if err != nil || !ok {
		return
	}
	var dims map[int]string
	if json.Unmarshal([]byte(raw), &dims) == nil && dims != nil {
		a.dimensions = dims
	}
}

func (a *Agent) persistDimensionsLocked() {
	if b, err := json.Marshal(a.dimensions); err == nil {
		_ = a.durable.Set(session.DimensionsKey, string(b))
	}
}

func (a *Agent) loadUserID() {
	if raw, ok, err := a.durable.Get(session.UserKey); err == nil && ok {
		a.userID = raw
	}
}

func (a *Agent) isVisible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

func (a *Agent) isOffline() bool {
	if a.cfg.Offline != nil {
		return a.cfg.Offline()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offline
}
