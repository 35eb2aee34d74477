package session

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/sitepulse/sitepulse-go/internal/storage"
	"github.com/sitepulse/sitepulse-go/internal/wire"
)

func testAttributes() wire.Attributes {
	return wire.Attributes{
		Referrer:    "https://example.org",
		LandingPage: "/home",
		UTMSource:   "newsletter",
		Language:    "en-US",
	}
}

func newTestMachine(t *testing.T) (*Machine, *quartz.Mock, storage.Store, storage.Store) {
	t.Helper()
	clock := quartz.NewMock(t)
	tab := storage.NewMemory()
	durable := storage.NewMemory()
	return NewMachine(tab, durable, "sid-1", clock), clock, tab, durable
}

func TestPageNumbersIncreaseByOne(t *testing.T) {
	t.Parallel()
	m, clock, _, _ := newTestMachine(t)

	dwells := []struct {
		path  string
		dwell time.Duration
	}{
		{"/home", 1500 * time.Millisecond},
		{"/products", 2 * time.Second},
		{"/about", time.Second},
		{"/contact", 500 * time.Millisecond},
	}
	for _, d := range dwells {
		m.RecordPageView(d.path, 0)
		clock.Advance(d.dwell)
	}
	// Close out the last page.
	m.RecordPageView("/done", 500*time.Millisecond)

	actions, current := m.TakeSnapshot()
	require.Len(t, actions, 4)
	for i, a := range actions {
		require.Equal(t, wire.ActionPageview, a.Type)
		require.Equal(t, dwells[i].path, a.Path)
		require.Equal(t, i+1, a.PageNumber)
		require.NotEmpty(t, a.Token)
	}
	require.Equal(t, 5, current.PageNumber)
	require.Equal(t, "/done", current.Path)
}

func TestPageviewDurationClampedToWallClock(t *testing.T) {
	t.Parallel()
	m, clock, _, _ := newTestMachine(t)

	m.RecordPageView("/a", 0)
	clock.Advance(time.Second)
	// A focus duration larger than the elapsed wall clock cannot happen from
	// a healthy tracker, but the log must never report it.
	m.RecordPageView("/b", 5*time.Second)

	actions, _ := m.TakeSnapshot()
	require.Len(t, actions, 1)
	require.Equal(t, int64(1000), actions[0].DurationMS)
}

func TestScrollClampedAndMonotonic(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestMachine(t)

	m.RecordPageView("/a", 0)
	m.UpdateScroll(-10)
	require.Equal(t, float64(0), m.CurrentPage().Scroll)
	m.UpdateScroll(42)
	m.UpdateScroll(17) // never decreases
	require.Equal(t, float64(42), m.CurrentPage().Scroll)
	m.UpdateScroll(250)
	require.Equal(t, float64(100), m.CurrentPage().Scroll)
}

func TestScrollDepthCapturedOnClose(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestMachine(t)

	m.RecordPageView("/a", 0)
	m.UpdateScroll(63)
	m.RecordPageView("/b", 0)

	actions, _ := m.TakeSnapshot()
	require.Len(t, actions, 1)
	require.Equal(t, float64(63), actions[0].Scroll)
}

func TestGoalStampedWithCurrentPage(t *testing.T) {
	t.Parallel()
	m, clock, _, _ := newTestMachine(t)

	m.RecordPageView("/pricing", 0)
	m.RecordPageView("/signup", 0)
	clock.Advance(time.Second)

	value := 9.99
	m.RecordGoal("signup", &value, "USD", map[string]any{"plan": "pro"})

	actions, _ := m.TakeSnapshot()
	require.Len(t, actions, 2) // closed pageview + goal
	goal := actions[1]
	require.Equal(t, wire.ActionGoal, goal.Type)
	require.Equal(t, "signup", goal.Name)
	require.Equal(t, "/signup", goal.Path)
	require.Equal(t, 2, goal.PageNumber)
	require.Equal(t, clock.Now().UnixMilli(), goal.Timestamp)
	require.Equal(t, &value, goal.Value)
}

func TestRestoreFromTabStore(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	tab := storage.NewMemory()
	durable := storage.NewMemory()

	m1 := NewMachine(tab, durable, "sid-1", clock)
	m1.RecordPageView("/a", 0)
	m1.RecordPageView("/b", 0)

	// A reload constructs a new machine over the same tab store.
	m2 := NewMachine(tab, durable, "sid-1", clock)
	require.Equal(t, 1, m2.PendingActions())
	require.Equal(t, "/b", m2.CurrentPage().Path)
	require.Equal(t, 2, m2.CurrentPage().PageNumber)
}

func TestRestoreDiscardsOtherSessionsState(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	tab := storage.NewMemory()
	durable := storage.NewMemory()

	m1 := NewMachine(tab, durable, "sid-1", clock)
	m1.RecordPageView("/a", 0)
	m1.RecordPageView("/b", 0)

	m2 := NewMachine(tab, durable, "sid-2", clock)
	require.Equal(t, 0, m2.PendingActions())
	require.Nil(t, m2.CurrentPage())
}

func TestTakeSnapshotClearsPending(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestMachine(t)

	m.RecordPageView("/a", 0)
	m.RecordPageView("/b", 0)
	actions, current := m.TakeSnapshot()
	require.Len(t, actions, 1)
	require.NotNil(t, current)

	actions, current = m.TakeSnapshot()
	require.Empty(t, actions)
	require.NotNil(t, current, "current page survives snapshots")
	require.Equal(t, 0, m.PendingActions())
}

func TestClaimAttributesOncePerSessionAcrossTabs(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	durable := storage.NewMemory()

	// Two tabs share the durable store but have their own tab stores.
	tabA := NewMachine(storage.NewMemory(), durable, "sid-1", clock)
	tabB := NewMachine(storage.NewMemory(), durable, "sid-1", clock)

	require.False(t, tabA.AttributesSent())
	require.True(t, tabA.ClaimAttributes())
	require.False(t, tabA.ClaimAttributes())
	require.False(t, tabB.ClaimAttributes())
	require.True(t, tabB.AttributesSent())

	// A new session claims again.
	tabA.ResetSession("sid-2")
	require.True(t, tabA.ClaimAttributes())
}

func TestEmptyPathReentersCurrentPage(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestMachine(t)

	m.RecordPageView("", 0)
	require.Equal(t, "/", m.CurrentPage().Path)

	m.RecordPageView("/docs", 0)
	m.RecordPageView("", 0)
	require.Equal(t, "/docs", m.CurrentPage().Path)
	require.Equal(t, 3, m.CurrentPage().PageNumber)
}
