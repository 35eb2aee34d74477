package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/sitepulse/sitepulse-go/internal/wire"
)

// Reason says what triggered a flush; it selects the transport.
type Reason int

const (
	// ReasonHeartbeat is the periodic flush.
	ReasonHeartbeat Reason = iota
	// ReasonGoal is the immediate, awaited flush after a tracked goal.
	ReasonGoal
	// ReasonTeardown is the best-effort final flush on page hide/unload.
	// It prefers the beacon, the only transport that survives navigation.
	ReasonTeardown
	// ReasonManual covers host-initiated flushes.
	ReasonManual
)

// PipelineOptions wires a Pipeline. Build constructs the next payload from
// live session state, returning nil when there is nothing to send.
type PipelineOptions struct {
	Clock       quartz.Clock
	Logger      *log.Logger
	Queue       *Queue
	HTTP        Transport
	Beacon      Transport
	Offline     func() bool
	BackoffBase time.Duration
	Build       func(now time.Time) *wire.Payload
}

// Pipeline owns payload serialization, transport selection, the retry queue,
// and sent_at stamping. One flush or drain runs at a time.
type Pipeline struct {
	mu sync.Mutex

	clock   quartz.Clock
	logger  *log.Logger
	queue   *Queue
	http    Transport
	beacon  Transport
	offline func() bool
	base    time.Duration
	build   func(now time.Time) *wire.Payload
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		clock:   opts.Clock,
		logger:  opts.Logger,
		queue:   opts.Queue,
		http:    opts.HTTP,
		beacon:  opts.Beacon,
		offline: opts.Offline,
		base:    opts.BackoffBase,
		build:   opts.Build,
	}
}

// Flush builds a payload from live session state and attempts delivery.
func (p *Pipeline) Flush(ctx context.Context, reason Reason) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload := p.build(p.clock.Now())
	if payload == nil {
		return Outcome{Status: StatusIdle}
	}
	return p.deliver(ctx, payload, reason)
}

func (p *Pipeline) deliver(ctx context.Context, payload *wire.Payload, reason Reason) Outcome {
	if p.isOffline() {
		// No network call at all: straight to the queue.
		p.enqueue(*payload, false)
		return Outcome{Status: StatusQueued, Err: ErrOffline}
	}

	body, err := p.stamp(payload)
	if err != nil {
		p.logf("dropping payload that does not serialize: %v", err)
		return Outcome{Status: StatusFailed, Err: err}
	}

	if reason == ReasonTeardown && p.beacon != nil {
		if err = p.beacon.Send(ctx, body); err == nil {
			// Fire-and-forget: accepted is the strongest claim available.
			return Outcome{Status: StatusSent}
		}
		// Beacon declined; fall through to the blocking call.
	}
	if err = p.http.Send(ctx, body); err != nil {
		p.enqueue(*payload, true)
		p.logf("send failed, payload queued for retry: %v", err)
		return Outcome{Status: StatusQueued, Err: err}
	}
	return Outcome{Status: StatusSent}
}

// DrainQueue retries queued payloads from the head, oldest first. It runs on
// opportunistic triggers only (page became visible, connectivity returned,
// heartbeat while active) and stops at the first item that is not yet due or
// fails again.
func (p *Pipeline) DrainQueue(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isOffline() {
		return
	}
	for {
		item, ok := p.queue.Head()
		if !ok {
			return
		}
		now := p.clock.Now()
		if item.NextRetryAt > now.UnixMilli() {
			return
		}
		body, err := p.stamp(&item.Payload)
		if err != nil {
			p.queue.PopHead()
			continue
		}
		if err := p.http.Send(ctx, body); err != nil {
			p.queue.RescheduleHead(now.Add(RetryDelay(p.base, item.Attempts)))
			p.logf("retry failed after %d attempt(s): %v", item.Attempts+1, err)
			return
		}
		p.queue.PopHead()
	}
}

// StartHeartbeat flushes on a fixed interval while active() holds. Nothing
// free-runs while the page is hidden or offline.
func (p *Pipeline) StartHeartbeat(ctx context.Context, interval time.Duration, active func() bool) {
	p.clock.TickerFunc(ctx, interval, func() error {
		if active != nil && !active() {
			return nil
		}
		if p.isOffline() {
			return nil
		}
		p.Flush(ctx, ReasonHeartbeat)
		p.DrainQueue(ctx)
		return nil
	}, "heartbeat")
}

// stamp assigns sent_at at the moment of transmission, then serializes. The
// server uses received_at - sent_at for clock-skew correction.
func (p *Pipeline) stamp(payload *wire.Payload) ([]byte, error) {
	payload.SentAt = p.clock.Now().UnixMilli()
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func (p *Pipeline) enqueue(payload wire.Payload, attempted bool) {
	now := p.clock.Now()
	item := QueueItem{
		Payload:     payload,
		EnqueuedAt:  now.UnixMilli(),
		NextRetryAt: now.UnixMilli(),
	}
	if attempted {
		item.Attempts = 1
		item.NextRetryAt = now.Add(RetryDelay(p.base, 0)).UnixMilli()
	}
	if dropped := p.queue.Push(item); dropped > 0 {
		p.logf("retry queue over capacity, dropped %d oldest item(s)", dropped)
	}
}

// QueueLen is the current retry queue length.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// ClearQueue drops all queued payloads. Used by Reset.
func (p *Pipeline) ClearQueue() {
	p.queue.Clear()
}

func (p *Pipeline) isOffline() bool {
	return p.offline != nil && p.offline()
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
