// Package delivery serializes session state into wire payloads and moves
// them to the collection endpoint: fire-and-forget beacon sends for page
// teardown, blocking HTTP for everything that needs an observable result,
// and a bounded persisted retry queue with exponential backoff in between.
package delivery

// Status is the tagged transport outcome. Transport trouble is control flow
// here, never a panic or an error escaping to the host page.
type Status int

const (
	// StatusIdle means there was nothing to deliver.
	StatusIdle Status = iota
	// StatusSent means the payload left on a transport (for the beacon,
	// "accepted for transmission" is the strongest claim available).
	StatusSent
	// StatusQueued means the send failed or was skipped and the payload
	// snapshot sits in the retry queue.
	StatusQueued
	// StatusFailed means the payload could not be delivered or queued, e.g.
	// it does not serialize.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSent:
		return "sent"
	case StatusQueued:
		return "queued"
	default:
		return "failed"
	}
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Status Status
	Err    error
}
