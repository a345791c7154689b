package lockwatch

import (
	"strings"

	"github.com/lockwatch/lockwatch/internal/goid"
	"github.com/lockwatch/lockwatch/internal/stacktrace"
	"github.com/lockwatch/lockwatch/named"
)

// skipTracking is the firewall in front of every hook: tracking is bypassed
// for invalid input, for a manager that is not live, and for call sites
// inside this module's own internals. Instrumenting the instrumentor is how
// a lock debugger deadlocks itself.
func (m *Manager) skipTracking(addr uintptr, site named.Site) bool {
	if m == nil || addr == 0 || site.IsZero() {
		return true
	}
	if m.state.Load() != stateInitialized {
		return true
	}
	if strings.HasPrefix(site.Function, "lockwatch.") && !strings.HasSuffix(site.File, "_test.go") {
		return true
	}
	return false
}

// TrackLockPending records that the calling goroutine is about to block on
// the given lock. Call it before the real acquisition so a blocked
// goroutine is visible to the deadlock scan. Returns false when tracking
// was skipped.
func (m *Manager) TrackLockPending(addr uintptr, kind Kind, site named.Site) bool {
	if m.skipTracking(addr, site) {
		return false
	}
	release, ok := m.guard.enter()
	if !ok {
		return false
	}
	defer release()

	key := LockKey{Addr: addr, Kind: kind}
	m.stacks.PushPending(key.stackKey(), m.displayName(addr, kind))
	return true
}

// TrackLockAcquired records a successful acquisition: promotes the pending
// stack entry, captures a backtrace, and inserts the live record. Call it
// only after the real primitive returned.
func (m *Manager) TrackLockAcquired(addr uintptr, kind Kind, site named.Site) bool {
	if m.skipTracking(addr, site) {
		return false
	}
	release, ok := m.guard.enter()
	if !ok {
		return false
	}
	defer release()

	key := LockKey{Addr: addr, Kind: kind}
	m.stacks.MarkLocked(key.stackKey())

	rec := &LockRecord{
		Key:        key,
		Goroutine:  goid.Current(),
		AcquiredAt: m.clock.Now(),
		Site:       site,
		Stack:      stacktrace.Capture(1),
	}

	m.mu.Lock()
	if m.records == nil {
		m.mu.Unlock()
		return false
	}
	if _, exists := m.records[key]; exists {
		// A record is already live for this (address, kind); keep the
		// original. Concurrent readers of one RWMutex land here.
		m.mu.Unlock()
		return false
	}
	m.records[key] = rec
	m.mu.Unlock()

	m.acquired.Add(1)
	m.held.Add(1)
	return true
}

// TrackUnlock records a release. Call it before the real primitive is
// released; the real release must happen regardless of the return value.
//
// A missing record while the held counter is positive is a tracking
// inconsistency and produces an orphan record; a missing record at zero held
// means the acquisition was filtered, which is normal and silent.
func (m *Manager) TrackUnlock(addr uintptr, kind Kind, site named.Site) bool {
	if m.skipTracking(addr, site) {
		return false
	}
	release, ok := m.guard.enter()
	if !ok {
		return false
	}
	defer release()

	key := LockKey{Addr: addr, Kind: kind}
	m.stacks.Pop(key.stackKey())

	m.mu.Lock()
	rec, found := m.records[key]
	if found {
		delete(m.records, key)
	}
	m.mu.Unlock()

	if found {
		now := m.clock.Now()
		heldFor := now.Sub(rec.AcquiredAt)

		m.released.Add(1)
		m.decrementHeld()
		m.recordUsage(rec.Site, kind, heldFor, now)

		// The index lock is already released; warning here honors the
		// no-logging-under-tracker-locks contract.
		if heldFor > m.cfg.holdWarning {
			m.log.Warn().
				Str("lock", m.named.Describe(addr, kind.String())).
				Str("kind", kind.String()).
				Dur("held", heldFor).
				Dur("threshold", m.cfg.holdWarning).
				Uint64("goroutine", rec.Goroutine).
				Str("acquired_at_site", rec.Site.String()).
				Str("released_at_site", site.String()).
				Strs("acquire_stack", rec.Stack.Frames()).
				Msg("lock held past warning threshold")
		}
		return true
	}

	if m.held.Load() > 0 {
		orphan := OrphanRecord{
			Key:        key,
			Goroutine:  goid.Current(),
			ReleasedAt: m.clock.Now(),
			Site:       site,
			Stack:      stacktrace.Capture(1),
		}

		m.orphanMu.Lock()
		m.orphans = append(m.orphans, orphan)
		m.orphanMu.Unlock()

		m.released.Add(1)
		m.decrementHeld()

		m.log.Warn().
			Str("lock", m.named.Describe(addr, kind.String())).
			Str("kind", kind.String()).
			Uint64("goroutine", orphan.Goroutine).
			Str("site", site.String()).
			Msg("orphaned release: unlock with no tracked acquisition record")
		return false
	}

	// Never tracked (filtered at acquire time).
	return false
}

// displayName resolves the stack-entry display name for a lock address.
func (m *Manager) displayName(addr uintptr, kind Kind) string {
	if name, ok := m.named.Get(addr); ok {
		return name
	}
	return kind.String()
}
