package session

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sitepulse/sitepulse-go/internal/storage"
	"github.com/sitepulse/sitepulse-go/internal/wire"
)

// LoadVisitorID returns the long-lived visitor id, creating one on first
// visit. It survives session rotation and is cleared only by Reset.
func LoadVisitorID(durable storage.Store) string {
	if raw, ok, err := durable.Get(keyVisitor); err == nil && ok && raw != "" {
		return raw
	}
	v := uuid.NewString()
	_ = durable.Set(keyVisitor, v)
	return v
}

// ClearVisitorID removes the visitor id.
func ClearVisitorID(durable storage.Store) {
	_ = durable.Delete(keyVisitor)
}

// NewTabID generates the ephemeral per-tab identifier and stores it in the
// tab-scoped store. It only distinguishes concurrent tabs and never gates
// correctness of shared session data.
func NewTabID(tab storage.Store) string {
	if raw, ok, err := tab.Get(keyTab); err == nil && ok && raw != "" {
		return raw
	}
	id := uuid.NewString()
	_ = tab.Set(keyTab, id)
	return id
}

type storedAttributes struct {
	SessionID  string          `json:"session_id"`
	Attributes wire.Attributes `json:"attributes"`
}

// SaveAttributes records the attributes captured at session creation so any
// tab on the same session can attach them to the first payload.
func SaveAttributes(durable storage.Store, sessionID string, attrs wire.Attributes) {
	if b, err := json.Marshal(storedAttributes{SessionID: sessionID, Attributes: attrs}); err == nil {
		_ = durable.Set(keyAttrs, string(b))
	}
}

// LoadAttributes returns the attributes for sessionID, if stored.
func LoadAttributes(durable storage.Store, sessionID string) (wire.Attributes, bool) {
	raw, ok, err := durable.Get(keyAttrs)
	if err != nil || !ok {
		return wire.Attributes{}, false
	}
	var st storedAttributes
	if json.Unmarshal([]byte(raw), &st) != nil || st.SessionID != sessionID {
		return wire.Attributes{}, false
	}
	return st.Attributes, true
}
