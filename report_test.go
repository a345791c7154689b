package lockwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportUninitialized(t *testing.T) {
	m := New()
	r := m.Report()
	assert.Zero(t, r.Acquired)
	assert.Empty(t, r.Active)
	assert.Empty(t, r.Usage)
	assert.Empty(t, r.Orphans)
}

func TestReportActiveOrdering(t *testing.T) {
	m, _, clock := newTestManager(t)

	require.True(t, m.TrackLockAcquired(0x2000, KindMutex, appSite(1)))
	clock.Advance(time.Millisecond)
	require.True(t, m.TrackLockAcquired(0x1000, KindMutex, appSite(2)))

	r := m.Report()
	require.Len(t, r.Active, 2)
	assert.Equal(t, uintptr(0x2000), r.Active[0].Key.Addr, "oldest acquisition first")
	assert.Equal(t, uintptr(0x1000), r.Active[1].Key.Addr)
	assert.GreaterOrEqual(t, r.Active[0].Held, r.Active[1].Held)
}

func TestReportFlags(t *testing.T) {
	m, _, _ := newTestManager(t)

	r := m.Report()
	assert.False(t, r.ReleaseOverflow())
	assert.False(t, r.CounterMismatch())

	// An orphan against a live record drains held below the record count.
	require.True(t, m.TrackLockAcquired(0x1000, KindMutex, appSite(1)))
	m.TrackUnlock(0x9999, KindMutex, appSite(2))

	r = m.Report()
	assert.True(t, r.CounterMismatch())
	assert.Equal(t, int64(0), r.Held)
	assert.Len(t, r.Active, 1)
}

func TestReportString(t *testing.T) {
	m, _, clock := newTestManager(t)

	mu := m.NewMutex("render")
	mu.Lock()
	clock.Advance(5 * time.Millisecond)
	mu.Unlock()

	rw := m.NewRWMutex("held")
	rw.Lock()
	defer rw.Unlock()

	out := m.Report().String()
	assert.Contains(t, out, "=== LOCK DEBUG STATE ===")
	assert.Contains(t, out, "=== END LOCK DEBUG STATE ===")
	assert.Contains(t, out, "acquired=2 released=1 held=1")
	assert.Contains(t, out, "Active Locks (1)")
	assert.Contains(t, out, "rwlock/held.0")
	assert.Contains(t, out, "Usage by Call Site")
	assert.Contains(t, out, "count=1")
	assert.Contains(t, out, "Orphaned Releases (0)")
}

func TestReportUsageAggregation(t *testing.T) {
	m, _, clock := newTestManager(t)

	site := appSite(42)
	holds := []time.Duration{
		2 * time.Millisecond,
		8 * time.Millisecond,
		5 * time.Millisecond,
	}
	for _, d := range holds {
		require.True(t, m.TrackLockAcquired(0x1000, KindMutex, site))
		clock.Advance(d)
		require.True(t, m.TrackUnlock(0x1000, KindMutex, site))
	}

	r := m.Report()
	require.Len(t, r.Usage, 1)
	u := r.Usage[0]
	assert.Equal(t, uint64(3), u.Count)
	assert.Equal(t, 15*time.Millisecond, u.Total)
	assert.Equal(t, 5*time.Millisecond, u.Avg())
	assert.Equal(t, 2*time.Millisecond, u.Min)
	assert.Equal(t, 8*time.Millisecond, u.Max)
	assert.True(t, u.Last.After(u.First))
}

func TestLogState(t *testing.T) {
	m, buf, _ := newTestManager(t)

	mu := m.NewMutex("logged")
	mu.Lock()
	defer mu.Unlock()

	m.LogState()
	assert.Contains(t, buf.String(), "=== LOCK DEBUG STATE ===")
	assert.Contains(t, buf.String(), "mutex/logged.0")
}
