// Package wire defines the records the agent sends to the collection
// endpoint. All timestamps on the wire are unix milliseconds.
package wire

import (
	"github.com/google/uuid"
)

// SDKVersion is reported in every payload.
const SDKVersion = "1.0.0"

type ActionType string

const (
	ActionPageview ActionType = "pageview"
	ActionGoal     ActionType = "goal"
)

// Action is a single entry in the session's append-only log. Pageviews and
// goals share the struct; Type selects which optional fields are set. Token
// is assigned once, when the action is appended, and never changes across
// retransmissions so the server can collapse duplicate deliveries.
type Action struct {
	Type       ActionType `json:"type"`
	Token      string     `json:"token"`
	Path       string     `json:"path"`
	PageNumber int        `json:"page_number"`

	// Pageview fields. Duration counts focus time only.
	DurationMS int64   `json:"duration,omitempty"`
	Scroll     float64 `json:"scroll,omitempty"`
	EnteredAt  int64   `json:"entered_at,omitempty"`
	ExitedAt   int64   `json:"exited_at,omitempty"`

	// Goal fields.
	Name       string         `json:"name,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// NewToken returns a fresh dedup token.
func NewToken() string {
	return uuid.NewString()
}

// CurrentPage is the page the visitor is presently on. It mutates until a
// navigation closes it into a pageview Action.
type CurrentPage struct {
	Path       string  `json:"path"`
	PageNumber int     `json:"page_number"`
	EnteredAt  int64   `json:"entered_at"`
	Scroll     float64 `json:"scroll"`
}

// Attributes describe the visit context, captured once at session creation
// and attached to the first transmitted payload only.
type Attributes struct {
	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	AdClickID     string `json:"ad_click_id,omitempty"`
	AdClickSource string `json:"ad_click_source,omitempty"`

	Device  string `json:"device,omitempty"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`

	ScreenWidth    int `json:"screen_width,omitempty"`
	ScreenHeight   int `json:"screen_height,omitempty"`
	ViewportWidth  int `json:"viewport_width,omitempty"`
	ViewportHeight int `json:"viewport_height,omitempty"`

	ConnectionType string `json:"connection_type,omitempty"`
	Language       string `json:"language,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// Payload is the wire record POSTed to {endpoint}/track. SentAt is zero
// until the delivery pipeline stamps it at the moment of transmission.
type Payload struct {
	WorkspaceID string            `json:"workspace_id"`
	SessionID   string            `json:"session_id"`
	VisitorID   string            `json:"visitor_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Dimensions  map[string]string `json:"dimensions,omitempty"`
	Actions     []Action          `json:"actions"`
	CurrentPage *CurrentPage      `json:"current_page,omitempty"`
	Attributes  *Attributes       `json:"attributes,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
	SDKVersion  string            `json:"sdk_version"`
	SentAt      int64             `json:"sent_at,omitempty"`
}
