package sitepulse

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/coder/quartz"

	"github.com/sitepulse/sitepulse-go/internal/wire"
)

// Attributes describe the visit context the host captured at startup.
type Attributes = wire.Attributes

// DeviceClass tunes the heartbeat: mobile-class devices get a shorter
// interval because their backgrounding window is shorter.
type DeviceClass int

const (
	DeviceDesktop DeviceClass = iota
	DeviceMobile
)

// MaxDimensions is the number of custom dimension slots (1-based).
const MaxDimensions = 10

var (
	ErrMissingEndpoint  = errors.New("sitepulse: endpoint is required")
	ErrMissingWorkspace = errors.New("sitepulse: workspace id is required")
)

// Config configures an Agent. Endpoint and WorkspaceID are required;
// everything else has a default.
type Config struct {
	// Endpoint is the collection base URL; payloads go to {Endpoint}/track.
	Endpoint string
	// WorkspaceID attributes all activity to one workspace.
	WorkspaceID string

	// InactivityTimeout expires the session. Default 30m.
	InactivityTimeout time.Duration
	// HeartbeatInterval overrides the device-class default (10s desktop,
	// 7s mobile).
	HeartbeatInterval time.Duration
	DeviceClass       DeviceClass

	// QueueCapacity bounds the retry queue. Default 100.
	QueueCapacity int
	// BackoffBase is the first retry delay; attempt n waits base*2^n with
	// jitter. Default 1s.
	BackoffBase time.Duration
	// SendTimeout bounds every blocking send so the agent never blocks the
	// host indefinitely. Default 10s.
	SendTimeout time.Duration
	// GoalTimeout bounds the awaited delivery attempt in TrackGoal.
	// Default 5s.
	GoalTimeout time.Duration

	// DataDir is where durable state lives. Empty means the platform
	// application data directory.
	DataDir string

	// Attributes are captured once at session creation and attached to the
	// first transmitted payload of the session.
	Attributes Attributes

	// Offline, when set, is consulted before every send (the host's
	// navigator.onLine analog). When nil, Online/Offline lifecycle signals
	// drive the flag.
	Offline func() bool

	HTTPClient *http.Client
	// Clock is a test seam; nil means the real clock.
	Clock quartz.Clock
	// Logger receives diagnostics. Nil keeps the agent silent.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		if c.DeviceClass == DeviceMobile {
			c.HeartbeatInterval = 7 * time.Second
		} else {
			c.HeartbeatInterval = 10 * time.Second
		}
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.GoalTimeout <= 0 {
		c.GoalTimeout = 5 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

// defaultDataDir picks the platform-specific application data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "SitePulse")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "SitePulse")
	default: // linux and others
		return filepath.Join(home, ".local", "share", "SitePulse")
	}
}
