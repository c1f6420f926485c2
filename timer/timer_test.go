package timer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the manager's "now" deterministically.
type fakeClock struct{ ms int64 }

func (c *fakeClock) now() int64 { return c.ms }
func (c *fakeClock) advance(d int64) { c.ms += d }

func newTestManager() (*Manager, *fakeClock) {
	c := &fakeClock{ms: 1_000_000}
	return NewManager(c.now), c
}

func TestOneShotFiresOnce(t *testing.T) {
	m, clk := newTestManager()
	fired := 0
	m.AddTimer(100, func() { fired++ }, false)

	clk.advance(50)
	require.Empty(t, m.CollectExpired())

	clk.advance(60)
	cbs := m.CollectExpired()
	require.Len(t, cbs, 1)
	cbs[0]()
	require.Equal(t, 1, fired)

	clk.advance(1000)
	require.Empty(t, m.CollectExpired())
	require.False(t, m.HasTimer())
}

func TestRecurringReschedules(t *testing.T) {
	m, clk := newTestManager()
	fired := 0
	m.AddTimer(100, func() { fired++ }, true)

	for i := 0; i < 3; i++ {
		clk.advance(100)
		cbs := m.CollectExpired()
		require.Len(t, cbs, 1)
		cbs[0]()
	}
	require.Equal(t, 3, fired)
	require.True(t, m.HasTimer())
}

func TestRecurringNoCatchUpBurst(t *testing.T) {
	m, clk := newTestManager()
	fired := 0
	m.AddTimer(100, func() { fired++ }, true)

	// Jump far past several periods; only one firing should be produced,
	// re-anchored to now rather than bursting through missed periods.
	clk.advance(1000)
	cbs := m.CollectExpired()
	require.Len(t, cbs, 1)
	cbs[0]()
	require.Equal(t, 1, fired)

	clk.advance(50)
	require.Empty(t, m.CollectExpired())
	clk.advance(60)
	require.Len(t, m.CollectExpired(), 1)
}

func TestCancelBeforeFire(t *testing.T) {
	m, clk := newTestManager()
	fired := false
	h := m.AddTimer(100, func() { fired = true }, false)

	clk.advance(10)
	require.True(t, m.Cancel(h))
	require.False(t, m.Cancel(h), "cancelling twice reports false the second time")

	clk.advance(200)
	require.Empty(t, m.CollectExpired())
	require.False(t, fired)
}

func TestResetFromNowDelaysNextFiring(t *testing.T) {
	m, clk := newTestManager()
	fired := 0
	h := m.AddTimer(100, func() { fired++ }, true)

	for range 3 {
		clk.advance(100)
		cbs := m.CollectExpired()
		if len(cbs) == 0 {
			break
		}
		for _, cb := range cbs {
			cb()
		}
	}
	require.Equal(t, 3, fired)

	require.True(t, m.Reset(h, 200, true))
	clk.advance(150)
	require.Empty(t, m.CollectExpired())
	clk.advance(60)
	cbs := m.CollectExpired()
	require.Len(t, cbs, 1)
	cbs[0]()
	require.Equal(t, 4, fired)
}

func TestOrderingTieBreaksByInsertion(t *testing.T) {
	m, clk := newTestManager()
	var order []int
	m.AddTimer(100, func() { order = append(order, 1) }, false)
	m.AddTimer(100, func() { order = append(order, 2) }, false)
	m.AddTimer(100, func() { order = append(order, 3) }, false)

	clk.advance(100)
	for _, cb := range m.CollectExpired() {
		cb()
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestClockRollbackFlushesAll(t *testing.T) {
	m, clk := newTestManager()
	fired := 0
	m.AddTimer(5_000_000, func() { fired++ }, false)
	m.AddTimer(10_000_000, func() { fired++ }, false)

	// Small backward jump (NTP slew) must NOT flush.
	clk.advance(-100)
	require.Empty(t, m.CollectExpired())

	// Jump back by more than an hour: treat everything as expired.
	clk.ms -= int64(2 * 3600 * 1000)
	cbs := m.CollectExpired()
	require.Len(t, cbs, 2)
	for _, cb := range cbs {
		cb()
	}
	require.Equal(t, 2, fired)
	require.False(t, m.HasTimer())
}

func TestConditionTimerFiresSafelyWhetherOrNotReferentCollected(t *testing.T) {
	m, clk := newTestManager()

	type cond struct{ v int }
	fired := 0

	func() {
		c := &cond{v: 42}
		AddConditionTimer(m, 100, c, func(c *cond) { fired++ }, false)
	}()

	clk.advance(200)
	cbs := m.CollectExpired()
	require.Len(t, cbs, 1)
	cbs[0]() // the referent may or may not be collected; must not panic either way
	require.GreaterOrEqual(t, fired, 0)
}

func TestNextExpiry(t *testing.T) {
	m, clk := newTestManager()
	require.Equal(t, NoTimer, m.NextExpiry())

	m.AddTimer(500, func() {}, false)
	require.Equal(t, int64(500), m.NextExpiry())

	clk.advance(600)
	require.Equal(t, int64(0), m.NextExpiry())
}

func TestOnFrontInsertedNotifiesOnlyWhenHeadChanges(t *testing.T) {
	m, _ := newTestManager()
	notified := 0
	m.OnFrontInserted = func() { notified++ }

	m.AddTimer(200, func() {}, false) // becomes head
	require.Equal(t, 1, notified)

	m.AddTimer(500, func() {}, false) // not head
	require.Equal(t, 1, notified)

	m.AddTimer(50, func() {}, false) // new head
	require.Equal(t, 2, notified)
}
