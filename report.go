package lockwatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lockwatch/lockwatch/named"
)

// ActiveLock is one live acquisition as seen by Report.
type ActiveLock struct {
	Key        LockKey
	Name       string
	Goroutine  uint64
	Site       named.Site
	AcquiredAt time.Time
	Held       time.Duration
	Stack      []string
}

// SiteUsage aggregates completed holds for one acquisition site and kind.
type SiteUsage struct {
	Site  named.Site
	Kind  Kind
	Count uint64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	First time.Time
	Last  time.Time
}

// Avg returns the mean hold duration.
func (u SiteUsage) Avg() time.Duration {
	if u.Count == 0 {
		return 0
	}
	return u.Total / time.Duration(u.Count)
}

// Orphan is one release that arrived with no matching acquisition record.
type Orphan struct {
	Key        LockKey
	Name       string
	Goroutine  uint64
	Site       named.Site
	ReleasedAt time.Time
	Stack      []string
}

// StateReport is a point-in-time snapshot of everything the manager knows:
// lifetime counters, live acquisitions, per-site usage statistics, and
// orphaned releases.
type StateReport struct {
	GeneratedAt time.Time
	Acquired    uint64
	Released    uint64
	Held        int64
	Active      []ActiveLock
	Usage       []SiteUsage
	Orphans     []Orphan
}

// ReleaseOverflow reports whether more releases than acquisitions were
// counted, which indicates unlock calls on lost or never-tracked locks.
func (r *StateReport) ReleaseOverflow() bool {
	return r.Released > r.Acquired
}

// CounterMismatch reports disagreement between the held counter and the
// number of live records. The two are updated without a common lock, so a
// transient off-by-one under load is expected; a persistent mismatch is not.
func (r *StateReport) CounterMismatch() bool {
	return int64(len(r.Active)) != r.Held
}

// Report collects a StateReport. Each internal structure is copied under
// its own lock and released before the next is touched; nothing is rendered
// or logged while any tracker lock is held.
func (m *Manager) Report() StateReport {
	r := StateReport{GeneratedAt: m.clock.Now()}
	if !m.Initialized() {
		return r
	}

	r.Acquired, r.Released, r.Held = m.Counters()

	m.mu.RLock()
	r.Active = make([]ActiveLock, 0, len(m.records))
	for _, rec := range m.records {
		r.Active = append(r.Active, ActiveLock{
			Key:        rec.Key,
			Goroutine:  rec.Goroutine,
			Site:       rec.Site,
			AcquiredAt: rec.AcquiredAt,
			Held:       r.GeneratedAt.Sub(rec.AcquiredAt),
			Stack:      rec.Stack.Frames(),
		})
	}
	m.mu.RUnlock()

	m.statsMu.RLock()
	r.Usage = make([]SiteUsage, 0, len(m.stats))
	for site, s := range m.stats {
		r.Usage = append(r.Usage, SiteUsage{
			Site:  site,
			Kind:  s.kind,
			Count: s.count,
			Total: s.total,
			Min:   s.min,
			Max:   s.max,
			First: s.first,
			Last:  s.last,
		})
	}
	m.statsMu.RUnlock()

	m.orphanMu.RLock()
	r.Orphans = make([]Orphan, 0, len(m.orphans))
	for _, o := range m.orphans {
		r.Orphans = append(r.Orphans, Orphan{
			Key:        o.Key,
			Goroutine:  o.Goroutine,
			Site:       o.Site,
			ReleasedAt: o.ReleasedAt,
			Stack:      o.Stack.Frames(),
		})
	}
	m.orphanMu.RUnlock()

	// Name resolution happens last, against the registry alone.
	for i := range r.Active {
		r.Active[i].Name = m.named.Describe(r.Active[i].Key.Addr, r.Active[i].Key.Kind.String())
	}
	for i := range r.Orphans {
		r.Orphans[i].Name = m.named.Describe(r.Orphans[i].Key.Addr, r.Orphans[i].Key.Kind.String())
	}

	sort.Slice(r.Active, func(i, j int) bool {
		return r.Active[i].AcquiredAt.Before(r.Active[j].AcquiredAt)
	})
	sort.Slice(r.Usage, func(i, j int) bool {
		return r.Usage[i].Site.String() < r.Usage[j].Site.String()
	})
	return r
}

// String renders the report as a multi-line block suitable for dumping to
// a terminal or log file.
func (r StateReport) String() string {
	var b strings.Builder

	b.WriteString("=== LOCK DEBUG STATE ===\n")
	fmt.Fprintf(&b, "Historical: acquired=%d released=%d held=%d\n", r.Acquired, r.Released, r.Held)
	if r.ReleaseOverflow() {
		b.WriteString("WARNING: released exceeds acquired\n")
	}
	if r.CounterMismatch() {
		fmt.Fprintf(&b, "WARNING: held counter (%d) disagrees with live records (%d)\n", r.Held, len(r.Active))
	}

	fmt.Fprintf(&b, "\n--- Active Locks (%d) ---\n", len(r.Active))
	for _, a := range r.Active {
		fmt.Fprintf(&b, "%s held %v by goroutine %d\n", a.Name, a.Held.Round(time.Microsecond), a.Goroutine)
		fmt.Fprintf(&b, "  acquired at %s\n", a.Site)
		for _, frame := range a.Stack {
			fmt.Fprintf(&b, "    %s\n", frame)
		}
	}

	fmt.Fprintf(&b, "\n--- Usage by Call Site (%d) ---\n", len(r.Usage))
	for _, u := range r.Usage {
		fmt.Fprintf(&b, "%s [%s] count=%d total=%v avg=%v min=%v max=%v\n",
			u.Site, u.Kind, u.Count,
			u.Total.Round(time.Microsecond), u.Avg().Round(time.Microsecond),
			u.Min.Round(time.Microsecond), u.Max.Round(time.Microsecond))
	}

	fmt.Fprintf(&b, "\n--- Orphaned Releases (%d) ---\n", len(r.Orphans))
	for _, o := range r.Orphans {
		fmt.Fprintf(&b, "%s released by goroutine %d at %s\n", o.Name, o.Goroutine, o.Site)
		for _, frame := range o.Stack {
			fmt.Fprintf(&b, "    %s\n", frame)
		}
	}

	b.WriteString("=== END LOCK DEBUG STATE ===")
	return b.String()
}

// LogState emits a full state report through the manager's logger.
func (m *Manager) LogState() {
	if !m.Initialized() {
		return
	}
	r := m.Report()
	m.log.Info().
		Uint64("acquired", r.Acquired).
		Uint64("released", r.Released).
		Int64("held", r.Held).
		Int("active", len(r.Active)).
		Int("orphans", len(r.Orphans)).
		Msg(r.String())
}
