package lockwatch

import (
	"context"
	"time"
)

// StartMonitor launches the background watchdog goroutine. Once per
// interval it scans the live-record index for locks held past the check
// threshold and runs the deadlock scan; a TriggerReport call makes it emit
// a full state report out of band. Starting an already running monitor is
// a no-op.
func (m *Manager) StartMonitor() error {
	if !m.Initialized() {
		return ErrNotInitialized
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitorDone != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.monitorStop = cancel
	m.monitorDone = done

	go m.monitorLoop(ctx, done)

	m.log.Debug().
		Dur("interval", m.cfg.monitorInterval).
		Dur("check_threshold", m.cfg.checkThreshold).
		Msg("lock monitor started")
	return nil
}

// StopMonitor cancels the watchdog and waits for it to exit, bounded by the
// join timeout. Safe to call when no monitor is running.
func (m *Manager) StopMonitor() {
	if m == nil {
		return
	}

	m.monitorMu.Lock()
	stop, done := m.monitorStop, m.monitorDone
	m.monitorStop, m.monitorDone = nil, nil
	m.monitorMu.Unlock()

	if stop == nil {
		return
	}
	stop()

	// Join on the wall clock, not the injected clock: a test driving a fake
	// clock would otherwise hang here forever.
	select {
	case <-done:
		m.log.Debug().Msg("lock monitor stopped")
	case <-time.After(m.cfg.joinTimeout):
		m.log.Warn().
			Dur("timeout", m.cfg.joinTimeout).
			Msg("lock monitor did not stop in time; abandoning goroutine")
	}
}

// TriggerReport asks a running monitor to emit a full state report.
// Non-blocking; coalesces with a trigger already in flight.
func (m *Manager) TriggerReport() {
	if !m.Initialized() {
		return
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Manager) monitorLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(m.cfg.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.checkLongHeld()
			m.reportDeadlocks()
		case <-m.trigger:
			m.LogState()
		}
	}
}

// checkLongHeld warns about locks held past the check threshold. The index
// is only read under its lock; logging happens after release, against the
// copied records.
func (m *Manager) checkLongHeld() {
	type finding struct {
		rec  LockRecord
		held time.Duration
	}
	now := m.clock.Now()

	m.mu.RLock()
	var findings []finding
	for _, rec := range m.records {
		if d := now.Sub(rec.AcquiredAt); d > m.cfg.checkThreshold {
			findings = append(findings, finding{rec: *rec, held: d})
		}
	}
	m.mu.RUnlock()

	for _, f := range findings {
		// One warning per acquisition, keyed by when it happened: the same
		// lock re-acquired later warns again.
		if !m.warned.firstf("held:%x:%d:%d", f.rec.Key.Addr, f.rec.Key.Kind, f.rec.AcquiredAt.UnixNano()) {
			continue
		}
		m.log.Warn().
			Str("lock", m.named.Describe(f.rec.Key.Addr, f.rec.Key.Kind.String())).
			Str("kind", f.rec.Key.Kind.String()).
			Uint64("goroutine", f.rec.Goroutine).
			Dur("held", f.held).
			Dur("threshold", m.cfg.checkThreshold).
			Str("site", f.rec.Site.String()).
			Strs("acquire_stack", f.rec.Stack.Frames()).
			Msg("lock still held past check threshold")
	}
}

// reportDeadlocks runs the two-goroutine wait scan and logs each finding
// once per goroutine pair. Successive scans may discover the same cycle from
// the other end, so the dedup key is orientation-independent.
func (m *Manager) reportDeadlocks() {
	for _, d := range m.stacks.DetectDeadlocks() {
		g1, g2 := d.Goroutine, d.OtherGoroutine
		if g2 < g1 {
			g1, g2 = g2, g1
		}
		k1, k2 := d.WaitingKey, d.HeldKey
		if k2 < k1 {
			k1, k2 = k2, k1
		}
		if !m.warned.firstf("deadlock:%d:%d:%x:%x", g1, g2, k1, k2) {
			continue
		}
		m.log.Error().
			Str("kind", d.Kind.String()).
			Uint64("goroutine", d.Goroutine).
			Uint64("other_goroutine", d.OtherGoroutine).
			Str("waiting_on", d.WaitingName).
			Str("holding", d.HeldName).
			Msg(d.String())
	}
}
